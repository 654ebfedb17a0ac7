// Package config loads and validates Zerodb's on-disk TOML configuration,
// mirroring the documented network.* configuration keys.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kartikbazzad/zerodb/internal/logging"
	"github.com/kartikbazzad/zerodb/internal/zerrors"
	"github.com/kartikbazzad/zerodb/raft"
)

// Network holds the network.* TOML keys.
type Network struct {
	ID         string            `toml:"id"`
	Name       string            `toml:"name"`
	Host       string            `toml:"host"`
	PeerPort   uint16            `toml:"peer_port"`
	ClientPort uint16            `toml:"client_port"`
	Seeds      map[string]string `toml:"seeds"`
	Consensus  Consensus         `toml:"consensus"`
}

// Consensus mirrors network.consensus.*.
type Consensus struct {
	HeartbeatIntervalMS    uint64 `toml:"heartbeat_interval"`
	ElectionTimeoutMinMS   uint64 `toml:"election_timeout_min"`
	ElectionTimeoutMaxMS   uint64 `toml:"election_timeout_max"`
}

// Logging mirrors the ambient logging section (not part of the core network.* keys,
// which scopes only the consensus-relevant keys, but every node needs one).
type Logging struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Config is the root of a zerodb.toml file.
type Config struct {
	Network Network `toml:"network"`
	Logging Logging `toml:"logging"`
}

// Default returns a Config with the documented defaults and a
// freshly generated node id.
func Default() Config {
	return Config{
		Network: Network{
			ID:         raft.NewNodeID().String(),
			Host:       "127.0.0.1",
			PeerPort:   6600,
			ClientPort: 6611,
			Seeds:      map[string]string{},
			Consensus: Consensus{
				HeartbeatIntervalMS:  50,
				ElectionTimeoutMinMS: 150,
				ElectionTimeoutMaxMS: 300,
			},
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads and parses a TOML file at path, starting from Default() so
// unspecified keys keep their documented defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, zerrors.New(zerrors.KindConfiguration, "decode_file", err)
	}
	return cfg, nil
}

// Validate enforces the configuration invariants: valid host,
// distinct peer/client ports, sane consensus timing.
func (c Config) Validate() error {
	if net.ParseIP(c.Network.Host) == nil {
		return zerrors.New(zerrors.KindConfiguration, "validate",
			fmt.Errorf("network.host %q is not a valid IP address", c.Network.Host))
	}
	if c.Network.PeerPort == c.Network.ClientPort {
		return zerrors.New(zerrors.KindConfiguration, "validate",
			fmt.Errorf("network.peer_port and network.client_port must differ (both %d)", c.Network.PeerPort))
	}
	if _, err := raft.ParseNodeID(c.Network.ID); err != nil {
		return zerrors.New(zerrors.KindConfiguration, "validate", err)
	}
	for id, addr := range c.Network.Seeds {
		if _, err := raft.ParseNodeID(id); err != nil {
			return zerrors.New(zerrors.KindConfiguration, "validate",
				fmt.Errorf("network.seeds key %q is not a valid node id: %w", id, err))
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return zerrors.New(zerrors.KindConfiguration, "validate",
				fmt.Errorf("network.seeds[%s] = %q is not a valid host:port: %w", id, addr, err))
		}
	}

	electionMin := time.Duration(c.Network.Consensus.ElectionTimeoutMinMS) * time.Millisecond
	electionMax := time.Duration(c.Network.Consensus.ElectionTimeoutMaxMS) * time.Millisecond
	heartbeat := time.Duration(c.Network.Consensus.HeartbeatIntervalMS) * time.Millisecond
	raftCfg := raft.Config{ElectionTimeoutMin: electionMin, ElectionTimeoutMax: electionMax, HeartbeatInterval: heartbeat}
	if err := raftCfg.Validate(); err != nil {
		return zerrors.New(zerrors.KindConfiguration, "validate", err)
	}
	return nil
}

// RaftConfig translates the parsed network section into a raft.Config, with
// the local node and its seed peers (including self) as the membership.
func (c Config) RaftConfig() (raft.Config, error) {
	id, err := raft.ParseNodeID(c.Network.ID)
	if err != nil {
		return raft.Config{}, err
	}

	peers := make(raft.Membership, len(c.Network.Seeds)+1)
	selfAddr := fmt.Sprintf("%s:%d", c.Network.Host, c.Network.PeerPort)
	peers[id] = selfAddr
	for idStr, addr := range c.Network.Seeds {
		peerID, err := raft.ParseNodeID(idStr)
		if err != nil {
			return raft.Config{}, err
		}
		peers[peerID] = addr
	}

	return raft.Config{
		ID:                 id,
		Peers:              peers,
		ElectionTimeoutMin: time.Duration(c.Network.Consensus.ElectionTimeoutMinMS) * time.Millisecond,
		ElectionTimeoutMax: time.Duration(c.Network.Consensus.ElectionTimeoutMaxMS) * time.Millisecond,
		HeartbeatInterval:  time.Duration(c.Network.Consensus.HeartbeatIntervalMS) * time.Millisecond,
	}, nil
}

// LogLevel translates the configured logging level into logging.Level.
func (c Config) LogLevel() logging.Level {
	switch c.Logging.Level {
	case "debug":
		return logging.DebugLevel
	case "warn":
		return logging.WarnLevel
	case "error":
		return logging.ErrorLevel
	default:
		return logging.InfoLevel
	}
}

// PeerAddr returns the host:port a service adapter listens on for peer RPC.
func (c Config) PeerAddr() string {
	return fmt.Sprintf("%s:%d", c.Network.Host, c.Network.PeerPort)
}

// ClientAddr returns the host:port a service adapter listens on for client
// requests.
func (c Config) ClientAddr() string {
	return fmt.Sprintf("%s:%d", c.Network.Host, c.Network.ClientPort)
}
