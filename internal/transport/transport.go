// Package transport accepts TCP on a peer port and a client port,
// translates framed wire messages into the raft package's channel protocol
// and back, and dials outbound RPC to peers resolved through the node's
// membership view. Grounded on bundoc-server/internal/server's accept-loop
// shape, adapted from JSON/flat opcodes to the CBOR-framed
// raft.PeerRPC/ClientRequest protocol.
package transport

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kartikbazzad/zerodb/raft"
	"github.com/kartikbazzad/zerodb/wire"
)

// dialTimeout bounds how long an outbound RPC waits to connect to a peer
// before giving up; a peer that is down or partitioned must not stall the
// replication or election loop driving this dispatch.
const dialTimeout = 2 * time.Second

// Server runs the peer and client listeners for one Node.
type Server struct {
	peerAddr   string
	clientAddr string
	channels   raft.OutsideChannels
	membership func() raft.Membership

	log zerolog.Logger

	peerLn   net.Listener
	clientLn net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
}

// NewServer builds a Server. membership is called on every outbound RPC to
// resolve a peer id to its current dial address.
func NewServer(peerAddr, clientAddr string, channels raft.OutsideChannels, membership func() raft.Membership, log zerolog.Logger) *Server {
	return &Server{
		peerAddr:   peerAddr,
		clientAddr: clientAddr,
		channels:   channels,
		membership: membership,
		log:        log,
		quit:       make(chan struct{}),
	}
}

// Start opens both listeners and begins the outbound-RPC dispatch loop.
func (s *Server) Start() error {
	peerLn, err := net.Listen("tcp", s.peerAddr)
	if err != nil {
		return err
	}
	s.peerLn = peerLn

	clientLn, err := net.Listen("tcp", s.clientAddr)
	if err != nil {
		peerLn.Close()
		return err
	}
	s.clientLn = clientLn

	s.log.Info().Str("addr", s.peerAddr).Msg("peer listener started")
	s.log.Info().Str("addr", s.clientAddr).Msg("client listener started")

	s.wg.Add(3)
	go s.acceptLoop(s.peerLn, s.handlePeerConn)
	go s.acceptLoop(s.clientLn, s.handleClientConn)
	go s.dispatchOutbound()
	return nil
}

// Stop closes both listeners and waits for the two accept loops and the
// outbound dispatch loop to return. Connections already being served are
// not tracked and are not waited for.
func (s *Server) Stop() error {
	close(s.quit)
	if s.peerLn != nil {
		s.peerLn.Close()
	}
	if s.clientLn != nil {
		s.clientLn.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		go handle(conn)
	}
}

// handlePeerConn reads one framed request per connection turn, dispatches it
// onto the inbound-RPC channel with a fresh one-shot reply channel, waits
// for the reply, and writes it back.
func (s *Server) handlePeerConn(conn net.Conn) {
	defer conn.Close()
	for {
		header, err := wire.ReadHeader(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug().Err(err).Msg("peer read_header error")
			}
			return
		}

		switch header.OpCode {
		case wire.OpRequestVote:
			var req raft.RequestVoteRequest
			if err := wire.ReadBody(conn, header.Length, &req); err != nil {
				return
			}
			replyTx := make(chan raft.RequestVoteResponse, 1)
			s.channels.InRPCTx <- raft.PeerRPC{RequestVote: &req, RequestVoteTx: replyTx}
			resp := <-replyTx
			if err := wire.WriteMessage(conn, wire.OpRequestVoteReply, resp); err != nil {
				return
			}

		case wire.OpAppendEntries:
			var req raft.AppendEntriesRequest
			if err := wire.ReadBody(conn, header.Length, &req); err != nil {
				return
			}
			replyTx := make(chan raft.AppendEntriesResponse, 1)
			s.channels.InRPCTx <- raft.PeerRPC{AppendEntries: &req, AppendEntriesTx: replyTx}
			resp := <-replyTx
			if err := wire.WriteMessage(conn, wire.OpAppendEntriesReply, resp); err != nil {
				return
			}

		default:
			s.log.Warn().Uint8("opcode", uint8(header.OpCode)).Msg("unexpected opcode on peer port")
			return
		}
	}
}

// handleClientConn reads one ClientSubmitRequest per connection turn and
// forwards it to the node's client-request channel.
func (s *Server) handleClientConn(conn net.Conn) {
	defer conn.Close()
	for {
		header, err := wire.ReadHeader(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug().Err(err).Msg("client read_header error")
			}
			return
		}
		if header.OpCode != wire.OpClientSubmit {
			s.log.Warn().Uint8("opcode", uint8(header.OpCode)).Msg("unexpected opcode on client port")
			return
		}

		var req wire.ClientSubmitRequest
		if err := wire.ReadBody(conn, header.Length, &req); err != nil {
			return
		}

		replyTx := make(chan raft.ClientResponse, 1)
		s.channels.InClientTx <- raft.ClientRequestSend{
			Request: raft.ClientRequest{Payload: req.Payload},
			ReplyTx: replyTx,
		}
		resp := <-replyTx

		out := wire.ClientSubmitReply{Reason: string(resp.Reason), Result: resp.Result}
		if resp.LeaderID != raft.NilNodeID {
			out.LeaderID = resp.LeaderID.String()
		}
		if resp.Err != "" {
			out.ErrMessage = resp.Err
		}
		if err := wire.WriteMessage(conn, wire.OpReply, out); err != nil {
			return
		}
	}
}

// dispatchOutbound drains OutRPCRx and dials whichever peer each request
// addresses, resolving the address through the membership callback.
// Failures are logged and do not panic the listener; the replication loop
// or election retry timer simply tries again on its own schedule.
func (s *Server) dispatchOutbound() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.channels.OutRPCRx:
			go s.sendOutbound(req)
		}
	}
}

// sendOutbound dials the addressed peer, writes the request, reads the
// reply, and forwards it to whichever reply channel the role task attached
// to the RPC. A dial or I/O failure is logged and simply drops the request:
// the leader's replication loop (or the candidate's retry timer) will try
// again on its own schedule, so no caller is left blocked forever.
func (s *Server) sendOutbound(req raft.OutboundRPC) {
	addr, ok := s.membership()[req.Peer]
	if !ok {
		s.log.Warn().Str("peer", req.Peer.String()).Msg("no known address for peer")
		return
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		s.log.Debug().Err(err).Str("peer", req.Peer.String()).Msg("dial failed")
		return
	}
	defer conn.Close()

	switch {
	case req.RPC.RequestVote != nil:
		if err := wire.WriteMessage(conn, wire.OpRequestVote, req.RPC.RequestVote); err != nil {
			s.log.Debug().Err(err).Msg("write request_vote failed")
			return
		}
		header, err := wire.ReadHeader(conn)
		if err != nil {
			return
		}
		var resp raft.RequestVoteResponse
		if err := wire.ReadBody(conn, header.Length, &resp); err != nil {
			return
		}
		req.RPC.RequestVoteTx <- resp

	case req.RPC.AppendEntries != nil:
		if err := wire.WriteMessage(conn, wire.OpAppendEntries, req.RPC.AppendEntries); err != nil {
			s.log.Debug().Err(err).Msg("write append_entries failed")
			return
		}
		header, err := wire.ReadHeader(conn)
		if err != nil {
			return
		}
		var resp raft.AppendEntriesResponse
		if err := wire.ReadBody(conn, header.Length, &resp); err != nil {
			return
		}
		req.RPC.AppendEntriesTx <- resp
	}
}
