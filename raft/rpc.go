package raft

// VoteReason explains a RequestVote response. Modeling it as a closed enum
// (rather than a free-form error string) lets the wire codec round-trip the
// exact rejection cause and lets tests assert on it precisely.
type VoteReason string

const (
	VoteOk             VoteReason = "ok"
	VoteAlreadyVoted    VoteReason = "already_voted"
	VoteStaleTerm      VoteReason = "stale_term"
	VoteIncompleteLog  VoteReason = "incomplete_log"
)

// RequestVoteRequest is sent by a candidate to gather votes.
type RequestVoteRequest struct {
	Term         Term   `cbor:"term"`
	CandidateID  NodeID `cbor:"candidate_id"`
	LastLogIndex Index  `cbor:"last_log_index"`
	LastLogTerm  Term   `cbor:"last_log_term"`
}

// RequestVoteResponse answers a RequestVoteRequest.
type RequestVoteResponse struct {
	Term        Term       `cbor:"term"`
	VoteGranted bool       `cbor:"vote_granted"`
	VoterID     NodeID     `cbor:"voter_id"`
	Reason      VoteReason `cbor:"reason"`
}

// ReplicateReason explains an AppendEntries response.
type ReplicateReason string

const (
	ReplicateOk          ReplicateReason = "ok"
	ReplicateStaleTerm   ReplicateReason = "stale_term"
	ReplicateLogMismatch ReplicateReason = "log_mismatch"
	ReplicateNotAFollower ReplicateReason = "not_a_follower"
)

// AppendEntriesRequest replicates (or, with Entries empty, heartbeats) a
// span of the leader's log to a follower.
type AppendEntriesRequest struct {
	Term         Term       `cbor:"term"`
	LeaderID     NodeID     `cbor:"leader_id"`
	PrevLogIndex Index      `cbor:"prev_log_index"`
	PrevLogTerm  Term       `cbor:"prev_log_term"`
	Entries      []LogEntry `cbor:"entries"`
	LeaderCommit Index      `cbor:"leader_commit"`
}

// AppendEntriesResponse answers an AppendEntriesRequest.
type AppendEntriesResponse struct {
	Term       Term            `cbor:"term"`
	Success    bool            `cbor:"success"`
	FollowerID NodeID          `cbor:"follower_id"`
	Reason     ReplicateReason `cbor:"reason"`
}

// InstallSnapshotRequest and TimeoutNowRequest are reserved: the wire
// protocol has opcodes for them (see the wire package) but no role task
// implements them yet. Snapshot transfer and leadership-transfer are both
// explicit Non-goals of this implementation.
type InstallSnapshotRequest struct {
	Term              Term   `cbor:"term"`
	LeaderID          NodeID `cbor:"leader_id"`
	LastIncludedIndex Index  `cbor:"last_included_index"`
	LastIncludedTerm  Term   `cbor:"last_included_term"`
	Data              []byte `cbor:"data"`
}

type InstallSnapshotResponse struct {
	Term Term `cbor:"term"`
}

type TimeoutNowRequest struct {
	Term Term `cbor:"term"`
}

type TimeoutNowResponse struct {
	Term Term `cbor:"term"`
}

// PeerRPC is the tagged union of every inbound peer request a Node can
// receive on its inbound-RPC channel. Exactly one field besides the reply
// channels is populated; the receiver switches on which request field is
// non-nil.
//
// Only RequestVote and AppendEntries are ever actually sent by this
// implementation -- InstallSnapshot and TimeoutNow round-trip through the
// wire codec as reserved opcodes but nothing constructs them.
type PeerRPC struct {
	RequestVote     *RequestVoteRequest
	RequestVoteTx   chan<- RequestVoteResponse

	AppendEntries   *AppendEntriesRequest
	AppendEntriesTx chan<- AppendEntriesResponse

	InstallSnapshot   *InstallSnapshotRequest
	InstallSnapshotTx chan<- InstallSnapshotResponse
}
