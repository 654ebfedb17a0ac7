package raft

import "context"

// runCandidate drives the candidate role. On entry it durably increments
// the term, votes for itself, and starts a single election attempt against
// the current membership; the dual-timer scheme (election timeout vs. a
// faster retry timeout) and the VoteResult shape are grounded on
// original_source/zeroraft's node/task/candidate.rs, adapted to Go's select
// instead of tokio::select!.
func (n *Node) runCandidate(ctx context.Context) error {
	if err := n.startElection(); err != nil {
		return err
	}

	electionTimer := NewRangeTimer(n.config.ElectionTimeoutMin, n.config.ElectionTimeoutMax)
	retryTimer := NewFixedTimer(n.config.ElectionTimeoutMin / 3)

	votes, err := n.requestVotes()
	if err != nil {
		return err
	}

	granted := map[NodeID]bool{n.id: true}
	needed := n.peerSet().Quorum()

	for {
		if n.Role() != Candidate {
			return nil
		}
		if len(granted) >= needed {
			n.becomeLeader()
			return nil
		}

		select {
		case <-ctx.Done():
			n.setRole(Shutdown)
			return nil

		case <-n.channels.shutdown:
			n.setRole(Shutdown)
			return nil

		case resp := <-votes:
			if resp.Term > n.CurrentTerm() {
				if err := n.stepDown(resp.Term); err != nil {
					return err
				}
				return nil
			}
			if resp.VoteGranted {
				granted[resp.VoterID] = true
			}

		case rpc := <-n.channels.inRPC:
			stepDown, err := n.candidateHandlePeerRPC(rpc)
			if err != nil {
				return err
			}
			if stepDown {
				return nil
			}

		case env := <-n.channels.inClientReq:
			n.replyRedirect(env)

		case <-retryTimer.Continuation():
			// Re-broadcast to peers that have not yet replied; simplest
			// correct approach is to restart the whole election attempt,
			// since vote requests are idempotent per term.
			votes, err = n.requestVotes()
			if err != nil {
				return err
			}
			retryTimer.Reset()

		case <-electionTimer.Continuation():
			n.logger.Debugf("node %s election timed out with no quorum, restarting election", n.id)
			return nil // runLoop re-enters Candidate, starting a fresh term
		}
	}
}

// startElection durably advances to a new term and records a vote for self.
func (n *Node) startElection() error {
	next := n.CurrentTerm() + 1
	if err := n.persistTerm(next); err != nil {
		return err
	}
	if err := n.store.SetVotedFor(n.id); err != nil {
		return storeErr("set_voted_for", err)
	}
	n.clearLeader()
	return nil
}

// requestVotes fans RequestVote out to every peer other than self and
// returns a channel that collects every response as it arrives.
func (n *Node) requestVotes() (<-chan RequestVoteResponse, error) {
	lastIndex, lastTerm, err := n.lastLogInfo()
	if err != nil {
		return nil, err
	}

	peers := n.peerSet()
	replies := make(chan RequestVoteResponse, len(peers))

	req := RequestVoteRequest{
		Term:         n.CurrentTerm(),
		CandidateID:  n.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	for id := range peers {
		if id == n.id {
			continue
		}
		rpc := PeerRPC{RequestVote: &req, RequestVoteTx: replies}
		select {
		case n.channels.outRPC <- OutboundRPC{Peer: id, RPC: rpc}:
		default:
			// Outbound queue saturated; skip this peer this round, the
			// retry timer will try again.
		}
	}
	return replies, nil
}

// candidateHandlePeerRPC is handlePeerRPC plus the candidate-specific rule
// that an AppendEntries from a legitimate leader in the same or higher term
// ends the candidacy immediately.
func (n *Node) candidateHandlePeerRPC(rpc PeerRPC) (stepDown bool, err error) {
	if rpc.AppendEntries != nil && rpc.AppendEntries.Term >= n.CurrentTerm() {
		resp, _, err := n.handleAppendEntries(*rpc.AppendEntries)
		if err != nil {
			return false, err
		}
		rpc.AppendEntriesTx <- resp
		return true, nil
	}
	reset, err := n.handlePeerRPC(rpc)
	return reset && n.Role() == Follower, err
}

// becomeLeader transitions to Leader once a majority of votes in the
// current term has been collected.
func (n *Node) becomeLeader() {
	n.logger.Infof("node %s won election for term %d", n.id, n.CurrentTerm())
	n.setLeader(n.id)
	n.setRole(Leader)
}
