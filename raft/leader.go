package raft

import "context"

// peerProgress tracks replication progress for one follower: nextIndex is
// the next log entry to send it, matchIndex is the highest entry known to
// be replicated there.
type peerProgress struct {
	nextIndex  Index
	matchIndex Index
}

// runLeader drives the leader role. It owns per-peer replication progress,
// a heartbeat timer, and the leader-only commit-index advancement rule
// (never commit an entry from a previous term purely by counting
// replicas -- only entries from the leader's own current term count,
// per the Raft safety argument).
func (n *Node) runLeader(ctx context.Context) error {
	lastIndex, err := n.lastIndexOnly()
	if err != nil {
		return err
	}

	progress := make(map[NodeID]*peerProgress)
	for id := range n.peerSet() {
		if id == n.id {
			continue
		}
		progress[id] = &peerProgress{nextIndex: lastIndex + 1}
	}

	replies := make(chan AppendEntriesResponse, rpcQueueCapacity)
	heartbeat := NewFixedTimer(n.config.HeartbeatInterval)

	n.replicateAll(progress, replies)

	for {
		if n.Role() != Leader {
			return nil
		}

		select {
		case <-ctx.Done():
			n.setRole(Shutdown)
			return nil

		case <-n.channels.shutdown:
			n.setRole(Shutdown)
			return nil

		case resp := <-replies:
			if resp.Term > n.CurrentTerm() {
				if err := n.stepDown(resp.Term); err != nil {
					return err
				}
				return nil
			}
			if err := n.handleReplicateReply(progress, resp); err != nil {
				return err
			}

		case rpc := <-n.channels.inRPC:
			stepDown, err := n.leaderHandlePeerRPC(rpc)
			if err != nil {
				return err
			}
			if stepDown {
				return nil
			}

		case env := <-n.channels.inClientReq:
			if err := n.leaderAcceptClient(env, progress, replies); err != nil {
				return err
			}

		case <-heartbeat.Continuation():
			n.replicateAll(progress, replies)
			heartbeat.Reset()
		}
	}
}

func (n *Node) lastIndexOnly() (Index, error) {
	idx, err := n.store.LastIndex()
	if err != nil {
		return 0, storeErr("last_index", err)
	}
	return idx, nil
}

// leaderAcceptClient appends the client's command as a new log entry,
// registers the reply channel against that index (resolved later by the
// apply loop), and immediately triggers a replication round so the entry
// does not wait for the next heartbeat tick.
func (n *Node) leaderAcceptClient(env clientEnvelope, progress map[NodeID]*peerProgress, replies chan AppendEntriesResponse) error {
	entry := LogEntry{Term: n.CurrentTerm(), Command: ClientCommand(env.request.Payload)}
	if err := n.store.AppendEntries([]LogEntry{entry}); err != nil {
		return storeErr("append_entries", err)
	}
	index, err := n.lastIndexOnly()
	if err != nil {
		return err
	}
	n.registerPending(index, env.replyTx)
	n.replicateAll(progress, replies)
	return nil
}

// replicateAll sends one AppendEntries (heartbeat or with entries, as
// nextIndex dictates) to every peer.
func (n *Node) replicateAll(progress map[NodeID]*peerProgress, replies chan AppendEntriesResponse) {
	commitIndex, err := n.store.CommitIndex()
	if err != nil {
		n.logger.Errorf("leader: read commit_index: %v", err)
		return
	}
	currentTerm := n.CurrentTerm()

	for id, prog := range progress {
		prevIndex := prog.nextIndex - 1
		var prevTerm Term
		if prevIndex > 0 {
			entry, ok, err := n.store.GetEntry(prevIndex)
			if err != nil {
				n.logger.Errorf("leader: get_entry(%d): %v", prevIndex, err)
				continue
			}
			if ok {
				prevTerm = entry.Term
			}
		}

		it, err := n.store.EntriesFrom(prog.nextIndex)
		if err != nil {
			n.logger.Errorf("leader: entries_from(%d): %v", prog.nextIndex, err)
			continue
		}
		var entries []LogEntry
		for it.Next() {
			entries = append(entries, it.Entry())
		}
		it.Close()

		req := AppendEntriesRequest{
			Term:         currentTerm,
			LeaderID:     n.id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: commitIndex,
		}
		rpc := PeerRPC{AppendEntries: &req, AppendEntriesTx: replies}
		select {
		case n.channels.outRPC <- OutboundRPC{Peer: id, RPC: rpc}:
		default:
		}
	}
}

// handleReplicateReply advances a peer's nextIndex/matchIndex on success, or
// backs nextIndex off by one on a log-mismatch rejection (the simplest
// correct form of the conflict-search optimization; the fast-backtrack
// optimization is not required), then re-evaluates whether commit_index
// can advance.
func (n *Node) handleReplicateReply(progress map[NodeID]*peerProgress, resp AppendEntriesResponse) error {
	prog, ok := progress[resp.FollowerID]
	if !ok {
		return nil
	}
	if resp.Success {
		// The response does not carry which index was replicated, so take
		// the most permissive safe inference: everything up to the
		// requested nextIndex-1 plus however many entries were sent. Since
		// replicateAll always sends from nextIndex to the leader's current
		// last index, success means the peer is caught up to our last index
		// at the time the request was issued.
		lastIndex, err := n.lastIndexOnly()
		if err != nil {
			return err
		}
		prog.matchIndex = lastIndex
		prog.nextIndex = lastIndex + 1
		return n.advanceCommitIndex(progress)
	}

	if resp.Reason == ReplicateLogMismatch && prog.nextIndex > 1 {
		prog.nextIndex--
	}
	return nil
}

// advanceCommitIndex commit_index
// advances to the highest index N such that a majority of the membership
// (including self) has matchIndex >= N and the entry at N belongs to the
// leader's current term.
func (n *Node) advanceCommitIndex(progress map[NodeID]*peerProgress) error {
	lastIndex, err := n.lastIndexOnly()
	if err != nil {
		return err
	}
	commitIndex, err := n.store.CommitIndex()
	if err != nil {
		return storeErr("commit_index", err)
	}
	currentTerm := n.CurrentTerm()
	quorum := n.peerSet().Quorum()

	for candidate := lastIndex; candidate > commitIndex; candidate-- {
		entry, ok, err := n.store.GetEntry(candidate)
		if err != nil {
			return storeErr("get_entry", err)
		}
		if !ok || entry.Term != currentTerm {
			continue
		}
		count := 1 // self
		for id, prog := range progress {
			if id != n.id && prog.matchIndex >= candidate {
				count++
			}
		}
		if count >= quorum {
			if err := n.store.SetCommitIndex(candidate); err != nil {
				return storeErr("set_commit_index", err)
			}
			n.wakeApplyLoop()
			return nil
		}
	}
	return nil
}

// leaderHandlePeerRPC applies the shared receiver algorithms and steps down
// on an AppendEntries whose term is at least ours, or on a RequestVote whose
// term is strictly higher. A second leader in the same term cannot coexist,
// and Raft's election safety property guarantees at most one leader is
// elected per term, so seeing an AppendEntries at our own term here would
// indicate a bug rather than a normal race.
func (n *Node) leaderHandlePeerRPC(rpc PeerRPC) (stepDown bool, err error) {
	if rpc.AppendEntries != nil && rpc.AppendEntries.Term >= n.CurrentTerm() {
		resp, _, err := n.handleAppendEntries(*rpc.AppendEntries)
		if err != nil {
			return false, err
		}
		rpc.AppendEntriesTx <- resp
		return true, nil
	}
	if rpc.RequestVote != nil && rpc.RequestVote.Term > n.CurrentTerm() {
		resp, _, err := n.handleRequestVote(*rpc.RequestVote)
		if err != nil {
			return false, err
		}
		rpc.RequestVoteTx <- resp
		return true, nil
	}
	_, err = n.handlePeerRPC(rpc)
	return false, err
}
