package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendAndGet(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.AppendEntries([]LogEntry{{Term: 1}, {Term: 1}, {Term: 2}}))

	last, err := s.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, Index(3), last)

	lastTerm, err := s.LastTerm()
	require.NoError(t, err)
	assert.Equal(t, Term(2), lastTerm)

	entry, ok, err := s.GetEntry(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Term(1), entry.Term)

	_, ok, err = s.GetEntry(0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetEntry(99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreTruncateAfterRejectsBelowCommit(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.AppendEntries([]LogEntry{{Term: 1}, {Term: 1}, {Term: 1}}))
	require.NoError(t, s.SetCommitIndex(1))

	err := s.TruncateAfter(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncateBelowCommit)

	require.NoError(t, s.TruncateAfter(2))
	last, _ := s.LastIndex()
	assert.Equal(t, Index(2), last)
}

func TestMemoryStoreCommitAndAppliedIndexMonotonic(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.SetCommitIndex(5))
	require.NoError(t, s.SetCommitIndex(3)) // must not regress
	idx, _ := s.CommitIndex()
	assert.Equal(t, Index(5), idx)

	require.NoError(t, s.SetAppliedIndex(2))
	require.NoError(t, s.SetAppliedIndex(1))
	applied, _ := s.AppliedIndex()
	assert.Equal(t, Index(2), applied)
}

func TestMemoryStoreSetCurrentTermClearsVoteOnAdvance(t *testing.T) {
	s := NewMemoryStore()
	candidate := NewNodeID()
	require.NoError(t, s.SetCurrentTerm(1))
	require.NoError(t, s.SetVotedFor(candidate))

	voted, ok, err := s.VotedFor()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, candidate, voted)

	require.NoError(t, s.SetCurrentTerm(2))
	_, ok, err = s.VotedFor()
	require.NoError(t, err)
	assert.False(t, ok, "a strictly higher term must clear the previous term's vote")
}

func TestMemoryStoreSetInitialMembershipIsOneShot(t *testing.T) {
	s := NewMemoryStore()
	id := NewNodeID()
	members := Membership{id: "127.0.0.1:6600"}

	require.NoError(t, s.SetInitialMembership(members))
	err := s.SetInitialMembership(members)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMembershipAlreadySet)

	got, err := s.GetMembership()
	require.NoError(t, err)
	assert.Equal(t, members, got)
}

func TestMemoryStoreEntriesFromIteratesRemainder(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.AppendEntries([]LogEntry{{Term: 1}, {Term: 2}, {Term: 3}, {Term: 4}}))

	it, err := s.EntriesFrom(2)
	require.NoError(t, err)
	defer it.Close()

	var terms []Term
	var indices []Index
	for it.Next() {
		terms = append(terms, it.Entry().Term)
		indices = append(indices, it.Index())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []Term{2, 3, 4}, terms)
	assert.Equal(t, []Index{2, 3, 4}, indices)
}

func TestMemoryStoreSnapshotUnsupportedByDefault(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetSnapshot()
	assert.ErrorIs(t, err, ErrSnapshotUnsupported)

	err = s.InstallSnapshot(Snapshot{})
	assert.ErrorIs(t, err, ErrSnapshotUnsupported)
}
