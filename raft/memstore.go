package raft

import (
	"sync"
	"sync/atomic"
)

// MemoryStore is the reference Store implementation: everything lives in
// process memory and is lost on restart. It exists so the consensus core
// can be exercised and tested without a real persistence layer; a durable
// backend satisfies the same Store interface.
type MemoryStore struct {
	mu sync.RWMutex

	log []LogEntry // log[i] is the entry at Index(i+1)

	commitIndex  Index
	appliedIndex Index

	currentTerm atomic.Uint64 // durable-before-send; atomic here stands in for fsync+atomic

	votedForMu sync.Mutex
	votedFor   NodeID
	hasVoted   bool

	membershipSet bool
	membership    Membership

	snapshot *Snapshot
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendEntries(entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entries...)
	return nil
}

func (s *MemoryStore) TruncateAfter(index Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index <= s.commitIndex {
		return storeErr("truncate_after", ErrTruncateBelowCommit)
	}
	if int(index) >= len(s.log) {
		return nil
	}
	s.log = s.log[:index]
	return nil
}

func (s *MemoryStore) GetEntry(index Index) (LogEntry, bool, error) {
	if index == 0 {
		return LogEntry{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := int(index) - 1
	if i < 0 || i >= len(s.log) {
		return LogEntry{}, false, nil
	}
	return s.log[i], true, nil
}

func (s *MemoryStore) EntriesFrom(index Index) (Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := int(index) - 1
	if start < 0 {
		start = 0
	}
	var out []LogEntry
	if start < len(s.log) {
		out = make([]LogEntry, len(s.log)-start)
		copy(out, s.log[start:])
	}
	return &sliceIterator{entries: out, startIndex: Index(start + 1), pos: -1}, nil
}

func (s *MemoryStore) LastIndex() (Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Index(len(s.log)), nil
}

func (s *MemoryStore) LastTerm() (Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.log) == 0 {
		return 0, nil
	}
	return s.log[len(s.log)-1].Term, nil
}

func (s *MemoryStore) CommitIndex() (Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commitIndex, nil
}

func (s *MemoryStore) SetCommitIndex(index Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index > s.commitIndex {
		s.commitIndex = index
	}
	return nil
}

func (s *MemoryStore) AppliedIndex() (Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appliedIndex, nil
}

func (s *MemoryStore) SetAppliedIndex(index Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index > s.appliedIndex {
		s.appliedIndex = index
	}
	return nil
}

func (s *MemoryStore) CurrentTerm() (Term, error) {
	return Term(s.currentTerm.Load()), nil
}

// SetCurrentTerm durably records term. voted_for is scoped to a single term
// by construction: whenever the term strictly advances, any vote recorded
// for the previous term is no longer valid and is cleared here, so a
// candidate in the new term starts with a clean slate.
func (s *MemoryStore) SetCurrentTerm(term Term) error {
	old := Term(s.currentTerm.Swap(uint64(term)))
	if term > old {
		s.votedForMu.Lock()
		s.hasVoted = false
		s.votedFor = NilNodeID
		s.votedForMu.Unlock()
	}
	return nil
}

func (s *MemoryStore) VotedFor() (NodeID, bool, error) {
	s.votedForMu.Lock()
	defer s.votedForMu.Unlock()
	return s.votedFor, s.hasVoted, nil
}

func (s *MemoryStore) SetVotedFor(candidate NodeID) error {
	s.votedForMu.Lock()
	defer s.votedForMu.Unlock()
	s.votedFor = candidate
	s.hasVoted = true
	return nil
}

func (s *MemoryStore) GetMembership() (Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membership.Clone(), nil
}

func (s *MemoryStore) SetInitialMembership(members Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.membershipSet {
		return storeErr("set_initial_membership", ErrMembershipAlreadySet)
	}
	s.membership = members.Clone()
	s.membershipSet = true
	return nil
}

func (s *MemoryStore) GetSnapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, storeErr("get_snapshot", ErrSnapshotUnsupported)
	}
	snap := *s.snapshot
	return &snap, nil
}

func (s *MemoryStore) InstallSnapshot(snap Snapshot) error {
	return storeErr("install_snapshot", ErrSnapshotUnsupported)
}

type sliceIterator struct {
	entries    []LogEntry
	startIndex Index
	pos        int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.entries) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Entry() LogEntry { return it.entries[it.pos] }
func (it *sliceIterator) Index() Index    { return it.startIndex + Index(it.pos) }
func (it *sliceIterator) Err() error      { return nil }
func (it *sliceIterator) Close() error    { return nil }
