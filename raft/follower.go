package raft

import "context"

// runFollower drives the follower role. It holds a single election timer
// drawn from the configured range and loops: shutdown, inbound RPC, inbound
// client request, election-timer continuation. It returns (without error)
// as soon as the role changes to Candidate or Shutdown.
func (n *Node) runFollower(ctx context.Context) error {
	timer := NewRangeTimer(n.config.ElectionTimeoutMin, n.config.ElectionTimeoutMax)

	for {
		if n.Role() != Follower {
			return nil
		}

		select {
		case <-ctx.Done():
			n.setRole(Shutdown)
			return nil

		case <-n.channels.shutdown:
			n.setRole(Shutdown)
			return nil

		case rpc := <-n.channels.inRPC:
			resetTimer, err := n.handlePeerRPC(rpc)
			if err != nil {
				return err
			}
			if resetTimer {
				timer.Reset()
			}

		case env := <-n.channels.inClientReq:
			n.replyRedirect(env)

		case <-timer.Continuation():
			n.logger.Debugf("node %s election timeout, becoming candidate", n.id)
			n.setRole(Candidate)
			return nil
		}
	}
}

// replyRedirect answers a client request at a non-leader: Redirect if a
// leader is known, NoLeaderYet otherwise.
func (n *Node) replyRedirect(env clientEnvelope) {
	resp := ClientResponse{Reason: ClientNoLeaderYet}
	if leader, ok := n.Leader(); ok {
		resp = ClientResponse{Reason: ClientRedirect, LeaderID: leader}
	}
	select {
	case env.replyTx <- resp:
	default:
	}
}

// handlePeerRPC applies the RequestVote/AppendEntries receiver algorithms
// shared by every role, and reports whether the election timer should be
// reset as a result.
func (n *Node) handlePeerRPC(rpc PeerRPC) (resetTimer bool, err error) {
	switch {
	case rpc.RequestVote != nil:
		resp, granted, err := n.handleRequestVote(*rpc.RequestVote)
		if err != nil {
			return false, err
		}
		rpc.RequestVoteTx <- resp
		return granted, nil

	case rpc.AppendEntries != nil:
		resp, accepted, err := n.handleAppendEntries(*rpc.AppendEntries)
		if err != nil {
			return false, err
		}
		rpc.AppendEntriesTx <- resp
		return accepted, nil

	case rpc.InstallSnapshot != nil:
		// Reserved: snapshot transfer is an explicit Non-goal.
		term, _ := n.store.CurrentTerm()
		rpc.InstallSnapshotTx <- InstallSnapshotResponse{Term: term}
		return false, nil
	}
	return false, nil
}

// handleRequestVote implements the RequestVote receiver algorithm: grant at
// most one vote per term, and only to a candidate whose log is at least as
// up to date as this node's.
func (n *Node) handleRequestVote(req RequestVoteRequest) (RequestVoteResponse, bool, error) {
	currentTerm, err := n.store.CurrentTerm()
	if err != nil {
		return RequestVoteResponse{}, false, storeErr("current_term", err)
	}

	// 1. Same-term, already voted for someone else.
	if currentTerm == req.Term {
		votedFor, hasVoted, err := n.store.VotedFor()
		if err != nil {
			return RequestVoteResponse{}, false, storeErr("voted_for", err)
		}
		if hasVoted && votedFor != req.CandidateID {
			return RequestVoteResponse{Term: currentTerm, VoteGranted: false, VoterID: n.id, Reason: VoteAlreadyVoted}, false, nil
		}
	}

	// 2. Stale term.
	if currentTerm > req.Term {
		return RequestVoteResponse{Term: currentTerm, VoteGranted: false, VoterID: n.id, Reason: VoteStaleTerm}, false, nil
	}

	// 3. Durably adopt the candidate's term (persistTerm clears any earlier
	// vote). The vote itself is persisted below, before it is granted, so a
	// crash cannot produce a second vote for this term.
	if req.Term > currentTerm {
		if err := n.persistTerm(req.Term); err != nil {
			return RequestVoteResponse{}, false, err
		}
		currentTerm = req.Term
	}
	n.setRole(Follower)

	// 4. Completeness check: reject if our log is more up-to-date.
	lastIndex, lastTerm, err := n.lastLogInfo()
	if err != nil {
		return RequestVoteResponse{}, false, err
	}
	ourLogGreater := lastTerm > req.LastLogTerm ||
		(lastTerm == req.LastLogTerm && lastIndex > req.LastLogIndex)
	if ourLogGreater {
		return RequestVoteResponse{Term: currentTerm, VoteGranted: false, VoterID: n.id, Reason: VoteIncompleteLog}, false, nil
	}

	if err := n.store.SetVotedFor(req.CandidateID); err != nil {
		return RequestVoteResponse{}, false, storeErr("set_voted_for", err)
	}

	return RequestVoteResponse{Term: currentTerm, VoteGranted: true, VoterID: n.id, Reason: VoteOk}, true, nil
}

// handleAppendEntries implements the AppendEntries receiver algorithm:
// term/log-consistency checks, conflicting-suffix truncation, and
// commit_index advancement. Candidate and Leader delegate here directly for
// any AppendEntries whose term is at least their own and then leave their
// role loop; this function itself switches the role to Follower and records
// req.LeaderID as the leader.
func (n *Node) handleAppendEntries(req AppendEntriesRequest) (AppendEntriesResponse, bool, error) {
	currentTerm, err := n.store.CurrentTerm()
	if err != nil {
		return AppendEntriesResponse{}, false, storeErr("current_term", err)
	}

	// 1. Stale term.
	if req.Term < currentTerm {
		return AppendEntriesResponse{Term: currentTerm, Success: false, FollowerID: n.id, Reason: ReplicateStaleTerm}, false, nil
	}

	// 2. Adopt term, record leader, become/stay Follower.
	if req.Term > currentTerm {
		if err := n.persistTerm(req.Term); err != nil {
			return AppendEntriesResponse{}, false, err
		}
		currentTerm = req.Term
	}
	n.setRole(Follower)
	n.setLeader(req.LeaderID)

	// 3. Consistency check.
	if req.PrevLogIndex > 0 {
		entry, ok, err := n.store.GetEntry(req.PrevLogIndex)
		if err != nil {
			return AppendEntriesResponse{}, false, storeErr("get_entry", err)
		}
		if !ok || entry.Term != req.PrevLogTerm {
			return AppendEntriesResponse{Term: currentTerm, Success: false, FollowerID: n.id, Reason: ReplicateLogMismatch}, true, nil
		}
	}

	// 4. Truncate on conflict, then append missing entries. Never truncate
	// at or below commit_index.
	commitIndex, err := n.store.CommitIndex()
	if err != nil {
		return AppendEntriesResponse{}, false, storeErr("commit_index", err)
	}

	toAppend := make([]LogEntry, 0, len(req.Entries))
	for i, newEntry := range req.Entries {
		pos := req.PrevLogIndex + Index(i) + 1
		existing, ok, err := n.store.GetEntry(pos)
		if err != nil {
			return AppendEntriesResponse{}, false, storeErr("get_entry", err)
		}
		if ok && existing.Term == newEntry.Term {
			continue // already present and identical
		}
		if ok {
			// Conflict: truncate this position and everything after it,
			// guarded against truncating committed entries.
			if pos <= commitIndex {
				return AppendEntriesResponse{}, false, storeErr("truncate_after", ErrTruncateBelowCommit)
			}
			if err := n.store.TruncateAfter(pos - 1); err != nil {
				return AppendEntriesResponse{}, false, err
			}
		}
		toAppend = append(toAppend, newEntry)
	}
	if len(toAppend) > 0 {
		if err := n.store.AppendEntries(toAppend); err != nil {
			return AppendEntriesResponse{}, false, storeErr("append_entries", err)
		}
	}

	// 5. Advance commit_index.
	if req.LeaderCommit > commitIndex {
		lastIndex, err := n.store.LastIndex()
		if err != nil {
			return AppendEntriesResponse{}, false, storeErr("last_index", err)
		}
		newCommit := req.LeaderCommit
		if lastIndex < newCommit {
			newCommit = lastIndex
		}
		if err := n.store.SetCommitIndex(newCommit); err != nil {
			return AppendEntriesResponse{}, false, storeErr("set_commit_index", err)
		}
		n.wakeApplyLoop()
	}

	return AppendEntriesResponse{Term: currentTerm, Success: true, FollowerID: n.id, Reason: ReplicateOk}, true, nil
}
