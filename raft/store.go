package raft

import (
	"errors"
	"fmt"
)

// Store errors. A Store operation failing always bubbles to the node loop as
// fatal: a node that cannot persist term/vote/log state must stop serving
// RPCs rather than risk a second vote in a term it can no longer remember
// casting.
var (
	// ErrTruncateBelowCommit is returned by TruncateAfter when its index is
	// at or below the commit index.
	ErrTruncateBelowCommit = errors.New("raft: cannot truncate at or below commit index")
	// ErrMembershipAlreadySet is returned by SetInitialMembership on a store
	// that already has a membership (it is a one-time operation).
	ErrMembershipAlreadySet = errors.New("raft: initial membership already set")
	// ErrSnapshotUnsupported is returned by Store implementations (such as
	// the in-memory reference) that do not implement snapshotting.
	ErrSnapshotUnsupported = errors.New("raft: snapshot operations unsupported by this store")
)

// StoreError wraps an underlying persistence failure so the node loop can
// recognize it as fatal without string-matching.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("raft: store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store is the pluggable persistence abstraction. It owns the replicated
// log, commit/applied indices, the durable current term and voted-for
// fields, the initial membership, and an optional snapshot.
//
// All sequencing around durability lives here so the role tasks above stay
// pure protocol logic: a role task never has to remember "persist before
// reply", it just calls the Store method whose contract already says so.
type Store interface {
	// AppendEntries appends entries at the current end of the log.
	AppendEntries(entries []LogEntry) error

	// TruncateAfter drops every entry at a position > index. It must
	// reject an index at or below the commit index.
	TruncateAfter(index Index) error

	// GetEntry returns the entry at a 1-based index, or ok=false if index is
	// out of range (including index 0).
	GetEntry(index Index) (entry LogEntry, ok bool, err error)

	// EntriesFrom returns a finite, non-restartable iterator from index to
	// the end of the log (inclusive of index).
	EntriesFrom(index Index) (Iterator, error)

	// LastIndex returns 0 when the log is empty.
	LastIndex() (Index, error)
	// LastTerm returns 0 when the log is empty.
	LastTerm() (Term, error)

	// CommitIndex / SetCommitIndex. Setters must enforce monotonic
	// non-decrease.
	CommitIndex() (Index, error)
	SetCommitIndex(index Index) error

	// AppliedIndex / SetAppliedIndex. Setters must enforce monotonic
	// non-decrease.
	AppliedIndex() (Index, error)
	SetAppliedIndex(index Index) error

	// CurrentTerm / SetCurrentTerm. SetCurrentTerm must complete (durably)
	// before any RPC response referencing that term is emitted.
	CurrentTerm() (Term, error)
	SetCurrentTerm(term Term) error

	// VotedFor / SetVotedFor. SetVotedFor must complete (durably) before the
	// vote grant it records is emitted to the candidate.
	VotedFor() (NodeID, bool, error)
	SetVotedFor(candidate NodeID) error

	// GetMembership returns the most recently persisted membership view.
	GetMembership() (Membership, error)
	// SetInitialMembership is a one-time operation: it fails with
	// ErrMembershipAlreadySet once a membership has been recorded. Later
	// membership changes flow through config log entries instead.
	SetInitialMembership(members Membership) error

	// GetSnapshot / InstallSnapshot are optional; an implementation that
	// does not support snapshotting returns ErrSnapshotUnsupported.
	GetSnapshot() (*Snapshot, error)
	InstallSnapshot(snap Snapshot) error
}

// Iterator walks a finite range of a Store's log. It is not restartable:
// once exhausted (or Close'd) it cannot be reused.
type Iterator interface {
	// Next advances to the next entry, returning false when exhausted or on
	// error (check Err after a false return).
	Next() bool
	// Entry returns the entry at the iterator's current position. Valid
	// only after a Next call that returned true.
	Entry() LogEntry
	// Index returns the 1-based log index of the current entry.
	Index() Index
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases any resources the iterator holds.
	Close() error
}
