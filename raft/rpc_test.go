package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, id NodeID, peers Membership) *Node {
	t.Helper()
	cfg := DefaultConfig(id, peers)
	n, err := NewNode(cfg, NewMemoryStore(), nil, noopLogger{})
	require.NoError(t, err)
	return n
}

func twoNodeMembership(self, other NodeID) Membership {
	return Membership{self: "inproc", other: "inproc"}
}

func TestHandleRequestVoteGrantsOnceThenRejectsSecondCandidateSameTerm(t *testing.T) {
	self := NewNodeID()
	candidateA := NewNodeID()
	candidateB := NewNodeID()
	n := newTestNode(t, self, Membership{self: "inproc", candidateA: "inproc", candidateB: "inproc"})

	resp, granted, err := n.handleRequestVote(RequestVoteRequest{Term: 1, CandidateID: candidateA})
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, VoteOk, resp.Reason)

	resp, granted, err = n.handleRequestVote(RequestVoteRequest{Term: 1, CandidateID: candidateB})
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, VoteAlreadyVoted, resp.Reason)
}

func TestHandleRequestVoteRejectsStaleTerm(t *testing.T) {
	self := NewNodeID()
	candidate := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, candidate))
	require.NoError(t, n.persistTerm(5))

	resp, granted, err := n.handleRequestVote(RequestVoteRequest{Term: 3, CandidateID: candidate})
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, VoteStaleTerm, resp.Reason)
	assert.Equal(t, Term(5), resp.Term)
}

func TestHandleRequestVoteRejectsIncompleteLog(t *testing.T) {
	self := NewNodeID()
	candidate := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, candidate))
	require.NoError(t, n.store.AppendEntries([]LogEntry{{Term: 1}, {Term: 2}}))

	resp, granted, err := n.handleRequestVote(RequestVoteRequest{
		Term: 3, CandidateID: candidate, LastLogIndex: 1, LastLogTerm: 1,
	})
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, VoteIncompleteLog, resp.Reason)
}

func TestHandleRequestVoteAdoptsHigherTermAndGrants(t *testing.T) {
	self := NewNodeID()
	candidate := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, candidate))

	resp, granted, err := n.handleRequestVote(RequestVoteRequest{Term: 7, CandidateID: candidate})
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, Term(7), resp.Term)
	assert.Equal(t, Term(7), n.CurrentTerm())
	assert.Equal(t, Follower, n.Role())
}

func TestHandleAppendEntriesRejectsStaleTerm(t *testing.T) {
	self := NewNodeID()
	leader := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, leader))
	require.NoError(t, n.persistTerm(4))

	resp, accepted, err := n.handleAppendEntries(AppendEntriesRequest{Term: 2, LeaderID: leader})
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, ReplicateStaleTerm, resp.Reason)
}

func TestHandleAppendEntriesRejectsOnLogMismatch(t *testing.T) {
	self := NewNodeID()
	leader := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, leader))
	require.NoError(t, n.store.AppendEntries([]LogEntry{{Term: 1}}))

	resp, accepted, err := n.handleAppendEntries(AppendEntriesRequest{
		Term: 1, LeaderID: leader, PrevLogIndex: 1, PrevLogTerm: 2,
	})
	require.NoError(t, err)
	assert.True(t, accepted) // resets the election timer even on a rejection
	assert.False(t, resp.Success)
	assert.Equal(t, ReplicateLogMismatch, resp.Reason)
}

func TestHandleAppendEntriesAppendsAndAdvancesCommitIndex(t *testing.T) {
	self := NewNodeID()
	leader := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, leader))

	resp, accepted, err := n.handleAppendEntries(AppendEntriesRequest{
		Term:         1,
		LeaderID:     leader,
		Entries:      []LogEntry{{Term: 1}, {Term: 1}},
		LeaderCommit: 1,
	})
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, resp.Success)

	last, _ := n.store.LastIndex()
	assert.Equal(t, Index(2), last)
	commit, _ := n.store.CommitIndex()
	assert.Equal(t, Index(1), commit)

	actualLeader, ok := n.Leader()
	assert.True(t, ok)
	assert.Equal(t, leader, actualLeader)
}

func TestHandleAppendEntriesTruncatesConflictingSuffix(t *testing.T) {
	self := NewNodeID()
	leader := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, leader))
	require.NoError(t, n.store.AppendEntries([]LogEntry{{Term: 1}, {Term: 1}, {Term: 2}}))

	_, accepted, err := n.handleAppendEntries(AppendEntriesRequest{
		Term:         3,
		LeaderID:     leader,
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      []LogEntry{{Term: 3}},
	})
	require.NoError(t, err)
	assert.True(t, accepted)

	entry, ok, err := n.store.GetEntry(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Term(3), entry.Term, "conflicting entry at index 2 must be replaced")

	last, _ := n.store.LastIndex()
	assert.Equal(t, Index(2), last)
}

func TestHandleAppendEntriesRefusesToTruncateBelowCommit(t *testing.T) {
	self := NewNodeID()
	leader := NewNodeID()
	n := newTestNode(t, self, twoNodeMembership(self, leader))
	require.NoError(t, n.store.AppendEntries([]LogEntry{{Term: 1}, {Term: 1}}))
	require.NoError(t, n.store.SetCommitIndex(2))

	_, _, err := n.handleAppendEntries(AppendEntriesRequest{
		Term:         2,
		LeaderID:     leader,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries:      []LogEntry{{Term: 2}, {Term: 2}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncateBelowCommit)
}
