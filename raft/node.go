package raft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Node's timing and identity. Heartbeat interval must be
// strictly less than the election timeout's lower bound -- by convention at
// least 3x less -- or a leader's own heartbeats will race its followers'
// election timers.
type Config struct {
	ID    NodeID
	Peers Membership // initial seed membership, including self

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
}

// DefaultConfig returns the default election/heartbeat timings (150-300ms
// election timeout, 50ms heartbeat) for the given id and peer set.
func DefaultConfig(id NodeID, peers Membership) Config {
	return Config{
		ID:                 id,
		Peers:              peers,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
	}
}

// Validate enforces that election_timeout_max exceeds election_timeout_min.
func (c Config) Validate() error {
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return fmt.Errorf("raft: election_timeout_max must be greater than election_timeout_min")
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("raft: heartbeat_interval (%s) must be less than election_timeout_min (%s)", c.HeartbeatInterval, c.ElectionTimeoutMin)
	}
	return nil
}

// Node is a single participant in a Raft cluster. It owns its identity,
// durable term/vote (via Store), peer set, current role, leader id, and
// last-heard-from-leader timestamp, and runs exactly one role task at a
// time until it reaches Shutdown.
//
// Lock order, to avoid deadlock: store -> peers -> votedFor -> roleMu ->
// leaderMu. No task holds a lock across a channel send/receive except the
// role loop itself, which owns its channel receivers for its entire
// lifetime (they are single-consumer by construction).
type Node struct {
	id     NodeID
	config Config
	store  Store
	fsm    StateMachine

	currentTerm atomic.Uint64 // mirrors Store.CurrentTerm(); written through the store first

	peersMu sync.RWMutex
	peers   Membership

	roleMu sync.RWMutex
	role   Role

	leaderMu       sync.RWMutex
	leaderID       NodeID
	hasLeader      bool
	lastHeardFrom  time.Time

	channels nodeChannels
	outside  OutsideChannels

	// pendingClients tracks client requests the leader has appended but not
	// yet applied, keyed by the log index they were written at.
	pendingMu      sync.Mutex
	pendingClients map[Index]chan<- ClientResponse

	applySignal chan struct{} // buffered(1), coalesced wake for the apply loop
	done        chan struct{} // closed once the role loop reaches Shutdown

	wg sync.WaitGroup

	logger Logger
}

// Logger is the minimal structured-logging surface the node needs; see
// internal/logging for the zerolog-backed implementation used in
// production and cmd/zerodb wiring.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// NewNode constructs a Node from configuration, a Store, and a StateMachine.
// On first construction -- if the Store has no persisted membership -- the
// configured seed peer set is written as the initial configuration.
func NewNode(cfg Config, store Store, fsm StateMachine, logger Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}

	existing, err := store.GetMembership()
	if err != nil {
		return nil, storeErr("get_membership", err)
	}
	if len(existing) == 0 {
		if err := store.SetInitialMembership(cfg.Peers); err != nil {
			return nil, err
		}
		existing = cfg.Peers.Clone()
	}

	term, err := store.CurrentTerm()
	if err != nil {
		return nil, storeErr("current_term", err)
	}

	nc, oc := newChannels()

	n := &Node{
		id:             cfg.ID,
		config:         cfg,
		store:          store,
		fsm:            fsm,
		peers:          existing,
		role:           Follower,
		channels:       nc,
		outside:        oc,
		pendingClients: make(map[Index]chan<- ClientResponse),
		applySignal:    make(chan struct{}, 1),
		done:           make(chan struct{}),
		logger:         logger,
	}
	n.currentTerm.Store(uint64(term))
	return n, nil
}

// Channels exposes the OutsideChannels bundle a service adapter uses to
// drive this Node.
func (n *Node) Channels() OutsideChannels { return n.outside }

// ID returns the node's own identity.
func (n *Node) ID() NodeID { return n.id }

// Role returns the node's current role.
func (n *Node) Role() Role {
	n.roleMu.RLock()
	defer n.roleMu.RUnlock()
	return n.role
}

func (n *Node) setRole(r Role) {
	n.roleMu.Lock()
	n.role = r
	n.roleMu.Unlock()
}

// CurrentTerm returns the term last observed, without going to the Store.
func (n *Node) CurrentTerm() Term { return Term(n.currentTerm.Load()) }

// Leader returns the last-known leader id, if any.
func (n *Node) Leader() (NodeID, bool) {
	n.leaderMu.RLock()
	defer n.leaderMu.RUnlock()
	return n.leaderID, n.hasLeader
}

func (n *Node) setLeader(id NodeID) {
	n.leaderMu.Lock()
	n.leaderID = id
	n.hasLeader = true
	n.lastHeardFrom = time.Now()
	n.leaderMu.Unlock()
}

func (n *Node) clearLeader() {
	n.leaderMu.Lock()
	n.hasLeader = false
	n.lastHeardFrom = time.Time{}
	n.leaderMu.Unlock()
}

func (n *Node) peerSet() Membership {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	return n.peers.Clone()
}

// Membership returns the node's current view of the cluster, for a service
// adapter to resolve outbound RPC addresses.
func (n *Node) Membership() Membership { return n.peerSet() }

func (n *Node) setPeers(m Membership) {
	n.peersMu.Lock()
	n.peers = m.Clone()
	n.peersMu.Unlock()
}

// persistTerm durably advances current_term (through the Store first, as
// durability requires) and only then updates the in-memory atomic mirror.
func (n *Node) persistTerm(term Term) error {
	if err := n.store.SetCurrentTerm(term); err != nil {
		return storeErr("set_current_term", err)
	}
	n.currentTerm.Store(uint64(term))
	return nil
}

// stepDown durably adopts a higher term observed from a peer response or
// RPC (Store.SetCurrentTerm clears any vote recorded for the old term) and
// transitions to Follower. Safe to call from any role task.
func (n *Node) stepDown(term Term) error {
	if err := n.persistTerm(term); err != nil {
		return err
	}
	n.setRole(Follower)
	return nil
}

func (n *Node) lastLogInfo() (Index, Term, error) {
	idx, err := n.store.LastIndex()
	if err != nil {
		return 0, 0, storeErr("last_index", err)
	}
	term, err := n.store.LastTerm()
	if err != nil {
		return 0, 0, storeErr("last_term", err)
	}
	return idx, term, nil
}

// wakeApplyLoop signals the apply loop to re-check commit_index without
// blocking if a signal is already pending.
func (n *Node) wakeApplyLoop() {
	select {
	case n.applySignal <- struct{}{}:
	default:
	}
}

// registerPending remembers the reply channel for a client request appended
// at a given log index, to be resolved once it is applied.
func (n *Node) registerPending(index Index, replyTx chan<- ClientResponse) {
	n.pendingMu.Lock()
	n.pendingClients[index] = replyTx
	n.pendingMu.Unlock()
}

func (n *Node) takePending(index Index) (chan<- ClientResponse, bool) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	tx, ok := n.pendingClients[index]
	if ok {
		delete(n.pendingClients, index)
	}
	return tx, ok
}

// Start runs the node loop until Shutdown is observed or a fatal Store
// error occurs, and runs the apply loop alongside it. It blocks until both
// exit; callers typically invoke it in its own goroutine.
func (n *Node) Start(ctx context.Context) error {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runApplyLoop(ctx)
	}()

	err := n.runLoop(ctx)
	n.wg.Wait()
	return err
}

// runLoop dispatches to the role task matching the current role. Each task
// runs until it observes a role transition (including into Shutdown), which
// the loop picks up before starting the next task -- role transitions are
// always observed here before the next task starts, never raced against it.
func (n *Node) runLoop(ctx context.Context) error {
	for {
		role := n.Role()
		n.logger.Debugf("node %s entering role %s (term %d)", n.id, role, n.CurrentTerm())

		var err error
		switch role {
		case Follower:
			err = n.runFollower(ctx)
		case Candidate:
			err = n.runCandidate(ctx)
		case Leader:
			err = n.runLeader(ctx)
		case Shutdown:
			close(n.done)
			return nil
		default:
			close(n.done)
			return fmt.Errorf("raft: unhandled role %s", role)
		}
		if err != nil {
			n.setRole(Shutdown)
			close(n.done)
			return err
		}
	}
}
