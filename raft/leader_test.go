package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLeaderTestNode(t *testing.T, self, peerA, peerB NodeID) *Node {
	t.Helper()
	cfg := DefaultConfig(self, Membership{self: "inproc", peerA: "inproc", peerB: "inproc"})
	n, err := NewNode(cfg, NewMemoryStore(), nil, noopLogger{})
	require.NoError(t, err)
	n.setRole(Leader)
	n.setLeader(self)
	return n
}

func TestAdvanceCommitIndexRequiresQuorumAndCurrentTerm(t *testing.T) {
	self := NewNodeID()
	peerA := NewNodeID()
	peerB := NewNodeID()
	n := newLeaderTestNode(t, self, peerA, peerB)

	require.NoError(t, n.persistTerm(2))
	require.NoError(t, n.store.AppendEntries([]LogEntry{{Term: 1}, {Term: 2}, {Term: 2}}))

	progress := map[NodeID]*peerProgress{
		peerA: {nextIndex: 4, matchIndex: 0},
		peerB: {nextIndex: 4, matchIndex: 0},
	}

	// Only self has replicated so far -- no quorum of 3 yet (need 2).
	require.NoError(t, n.advanceCommitIndex(progress))
	idx, _ := n.store.CommitIndex()
	assert.Equal(t, Index(0), idx)

	// peerA catches up to index 3 (term 2): quorum (self + peerA) = 2 of 3.
	progress[peerA].matchIndex = 3
	require.NoError(t, n.advanceCommitIndex(progress))
	idx, _ = n.store.CommitIndex()
	assert.Equal(t, Index(3), idx)
}

func TestAdvanceCommitIndexNeverCommitsPastTermEntryPurelyByCount(t *testing.T) {
	self := NewNodeID()
	peerA := NewNodeID()
	peerB := NewNodeID()
	n := newLeaderTestNode(t, self, peerA, peerB)

	require.NoError(t, n.persistTerm(3))
	// Index 1 and 2 are from earlier terms; the log holds no entry of term 3.
	require.NoError(t, n.store.AppendEntries([]LogEntry{{Term: 1}, {Term: 2}}))

	progress := map[NodeID]*peerProgress{
		peerA: {nextIndex: 3, matchIndex: 2},
		peerB: {nextIndex: 3, matchIndex: 2},
	}

	require.NoError(t, n.advanceCommitIndex(progress))
	idx, _ := n.store.CommitIndex()
	assert.Equal(t, Index(0), idx, "entries from a prior term must never be committed by count alone")
}

func TestHandleReplicateReplySuccessAdvancesProgressAndCommit(t *testing.T) {
	self := NewNodeID()
	peerA := NewNodeID()
	peerB := NewNodeID()
	n := newLeaderTestNode(t, self, peerA, peerB)
	require.NoError(t, n.store.AppendEntries([]LogEntry{{Term: 0}}))

	progress := map[NodeID]*peerProgress{
		peerA: {nextIndex: 1},
		peerB: {nextIndex: 1},
	}

	require.NoError(t, n.handleReplicateReply(progress, AppendEntriesResponse{
		FollowerID: peerA, Success: true, Term: 0,
	}))
	assert.Equal(t, Index(1), progress[peerA].matchIndex)
	assert.Equal(t, Index(2), progress[peerA].nextIndex)
	idx, err := n.store.CommitIndex()
	require.NoError(t, err)
	assert.Equal(t, Index(1), idx)
}

func TestHandleReplicateReplyMismatchBacksOffNextIndex(t *testing.T) {
	self := NewNodeID()
	peerA := NewNodeID()
	peerB := NewNodeID()
	n := newLeaderTestNode(t, self, peerA, peerB)

	progress := map[NodeID]*peerProgress{
		peerA: {nextIndex: 5},
		peerB: {nextIndex: 5},
	}

	require.NoError(t, n.handleReplicateReply(progress, AppendEntriesResponse{
		FollowerID: peerA, Success: false, Reason: ReplicateLogMismatch,
	}))
	assert.Equal(t, Index(4), progress[peerA].nextIndex)
	assert.Equal(t, Index(5), progress[peerB].nextIndex, "only the responding peer's progress should change")
}
