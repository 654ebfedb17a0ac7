// Package raft implements the Raft consensus algorithm that backs Bundoc's
// replicated document store.
//
// It manages:
//   - Leader Election: selecting a cluster leader.
//   - Log Replication: ensuring all nodes match the leader's log.
//   - Safety: guaranteeing committed entries are never lost.
//
// The node itself is a single-threaded state machine (Follower, Candidate,
// Leader, Shutdown) driven by channels; all cross-goroutine interaction with
// a Node happens by sending on a channel and waiting for a reply, never by
// calling exported methods from another goroutine mid-election.
package raft

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID is the 128-bit opaque identity of a cluster member. Equality is
// exact; ordering carries no meaning.
type NodeID = uuid.UUID

// NilNodeID is the zero NodeID, used as a sentinel for "no leader known".
var NilNodeID = uuid.Nil

// NewNodeID returns a fresh, random NodeID.
func NewNodeID() NodeID {
	return uuid.New()
}

// ParseNodeID parses a NodeID from its canonical string form.
func ParseNodeID(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilNodeID, fmt.Errorf("raft: invalid node id %q: %w", s, err)
	}
	return id, nil
}

// Term is a monotonically non-decreasing election epoch.
type Term uint64

// Index is a 1-based position in the replicated log. Index 0 means "no
// entry" (an empty log, or "before the first entry").
type Index uint64

// Membership maps every cluster member to the network address peers and
// clients use to reach it.
type Membership map[NodeID]string

// Clone returns a copy of the membership map so callers can't mutate a
// Node's view of the cluster through a returned reference.
func (m Membership) Clone() Membership {
	out := make(Membership, len(m))
	for id, addr := range m {
		out[id] = addr
	}
	return out
}

// Quorum returns floor(N/2)+1 for the current membership size.
func (m Membership) Quorum() int {
	return len(m)/2 + 1
}

// CommandKind discriminates the tagged union stored in a LogEntry. Go has no
// native sum type, so Command is a struct with a Kind discriminant and the
// fields relevant to that Kind populated; the others are left zero. This
// mirrors the `Command<R>` enum of the reference implementation closely
// enough to round-trip over CBOR without a custom union codec.
type CommandKind uint8

const (
	// CommandClient wraps an opaque, user-defined request payload.
	CommandClient CommandKind = iota
	// CommandSingleConfigState installs a new membership wholesale.
	CommandSingleConfigState
	// CommandCombinedConfigStates is the joint-consensus entry spanning an
	// old and a new membership during a reconfiguration. Not wired to the
	// role tasks yet -- see DESIGN.md.
	CommandCombinedConfigStates
)

// Command is the payload of a LogEntry.
type Command struct {
	Kind CommandKind `cbor:"kind"`

	// Populated when Kind == CommandClient. Opaque to the consensus core;
	// the embedding service (un)marshals it into its own request type.
	ClientRequest []byte `cbor:"client_request,omitempty"`

	// Populated when Kind == CommandSingleConfigState.
	Members Membership `cbor:"members,omitempty"`

	// Populated when Kind == CommandCombinedConfigStates.
	OldMembers Membership `cbor:"old_members,omitempty"`
	NewMembers Membership `cbor:"new_members,omitempty"`
}

// ClientCommand wraps an opaque client request as a log Command.
func ClientCommand(request []byte) Command {
	return Command{Kind: CommandClient, ClientRequest: request}
}

// ConfigCommand wraps a wholesale membership change as a log Command.
func ConfigCommand(members Membership) Command {
	return Command{Kind: CommandSingleConfigState, Members: members.Clone()}
}

// LogEntry is one append-only record in a node's replicated log. Its index
// is implicit in its position (1-based); the Store contract is what
// translates positions to stable indices.
type LogEntry struct {
	Term    Term    `cbor:"term"`
	Command Command `cbor:"command"`
}

// Role is the current task the node loop is running.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
	// NonVoter is reserved for a future non-voting-member feature; no task
	// implements it yet.
	NonVoter
	Shutdown
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	case NonVoter:
		return "non-voter"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Snapshot is a compacted view of the log up to and including
// LastIncludedIndex. Install is unimplemented in the reference Store; see
// DESIGN.md Open Questions.
type Snapshot struct {
	LastIncludedIndex Index
	LastIncludedTerm  Term
	Membership        Membership
	Data              []byte
}
