package raft

// ClientReason explains a ClientResponse.
type ClientReason string

const (
	ClientOk          ClientReason = "ok"
	ClientRedirect    ClientReason = "redirect"
	ClientNoLeaderYet ClientReason = "no_leader_yet"
	ClientFailed      ClientReason = "failed"
)

// ClientRequest is an opaque, user-defined command submitted by a client of
// the embedding service. The consensus core never interprets Payload; it
// only threads it through the log as a Command and hands it to the
// StateMachine once committed.
type ClientRequest struct {
	Payload []byte
}

// ClientResponse is what a ClientRequest eventually resolves to: either the
// applied result, or a redirect/backoff instruction telling the caller
// which node to retry against.
type ClientResponse struct {
	Reason   ClientReason
	LeaderID NodeID // valid when Reason == ClientRedirect
	Result   []byte // valid when Reason == ClientOk
	Err      string // human-readable detail when Reason == ClientFailed
}

// clientEnvelope pairs an inbound client request with the reply channel the
// callee must use exactly once.
type clientEnvelope struct {
	request ClientRequest
	replyTx chan<- ClientResponse
}

// nodeChannels is the inside-the-node view: receivers for inbound RPC and
// client requests, a shutdown receiver, and senders for outbound RPC and
// self-triggered shutdown.
//
// RPC and client queues are bounded but large (rpcQueueCapacity and
// clientQueueCapacity, 1024 each) since the Store
// is the ultimate rate limiter -- every accepted request performs a
// synchronous store operation before replying. The shutdown channel is
// capacity 1 and coalesced: a second send while one is pending is a no-op
// from the node's perspective.
type nodeChannels struct {
	inRPC          <-chan PeerRPC
	inClientReq    <-chan clientEnvelope
	shutdown       <-chan struct{}
	outRPC         chan<- OutboundRPC
	selfShutdownTx chan<- struct{}
}

// OutboundRPC addresses a request at a specific peer by NodeID; the adapter
// resolves the address through the Store's membership view.
type OutboundRPC struct {
	Peer NodeID
	RPC  PeerRPC
}

// OutsideChannels is the mirror image of nodeChannels: what a service
// adapter living outside the consensus core uses to feed RPCs and client
// requests in, drain outbound RPCs, and request shutdown.
type OutsideChannels struct {
	InRPCTx    chan<- PeerRPC
	InClientTx chan<- ClientRequestSend
	OutRPCRx   <-chan OutboundRPC
	ShutdownTx chan<- struct{}
}

// ClientRequestSend is what OutsideChannels.InClientTx accepts: a request
// plus the reply channel the caller will block on.
type ClientRequestSend struct {
	Request ClientRequest
	ReplyTx chan ClientResponse
}

const (
	rpcQueueCapacity    = 1024
	clientQueueCapacity = 1024
)

// newChannels builds one matched pair of channel bundles.
func newChannels() (nodeChannels, OutsideChannels) {
	inRPC := make(chan PeerRPC, rpcQueueCapacity)
	outRPC := make(chan OutboundRPC, rpcQueueCapacity)
	inClientRaw := make(chan ClientRequestSend, clientQueueCapacity)
	inClient := make(chan clientEnvelope, clientQueueCapacity)
	shutdown := make(chan struct{}, 1)

	// Adapt the externally-typed client-request channel (which carries its
	// own reply channel per send) into the internal envelope shape used by
	// the role tasks.
	go func() {
		for req := range inClientRaw {
			inClient <- clientEnvelope{request: req.Request, replyTx: req.ReplyTx}
		}
		close(inClient)
	}()

	nc := nodeChannels{
		inRPC:          inRPC,
		inClientReq:    inClient,
		shutdown:       shutdown,
		outRPC:         outRPC,
		selfShutdownTx: shutdown,
	}
	oc := OutsideChannels{
		InRPCTx:    inRPC,
		InClientTx: inClientRaw,
		OutRPCRx:   outRPC,
		ShutdownTx: shutdown,
	}
	return nc, oc
}
