// Package client is a thin TCP client for Zerodb's client port: every CRUD
// call is submitted as a ClientSubmit RPC carrying an opaque CommandEnvelope,
// and the reply is decoded once the consensus core has actually committed
// and applied it (or reports which node to retry against).
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/kartikbazzad/zerodb/wire"
)

const (
	dialTimeout     = 5 * time.Second
	maxRedirects    = 5
	noLeaderBackoff = 100 * time.Millisecond
)

// Client holds a connection to one node's client port and a set of known
// peer addresses (keyed by node id, as printed by raft.NodeID.String()) used
// to follow a Redirect response to the current leader.
type Client struct {
	addr  string
	conn  net.Conn
	peers map[string]string // node id -> host:port, for following redirects
}

// Connect dials a single node's client port. peers, if non-nil, lets the
// client transparently reconnect to the leader on a Redirect response;
// without it, Redirect surfaces as an error naming the leader's node id.
func Connect(addr string, peers map[string]string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn, peers: peers}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) reconnect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("client: reconnect %s: %w", addr, err)
	}
	c.conn.Close()
	c.conn = conn
	c.addr = addr
	return nil
}

// submit sends one CommandEnvelope and follows Redirect/NoLeaderYet
// responses up to maxRedirects times, following the documented
// client-retry behaviour.
func (c *Client) submit(cmd wire.CommandEnvelope) (wire.Reply, error) {
	payload, err := wire.EncodeCommand(cmd)
	if err != nil {
		return wire.Reply{}, fmt.Errorf("client: encode command: %w", err)
	}

	for attempt := 0; attempt < maxRedirects; attempt++ {
		if err := wire.WriteMessage(c.conn, wire.OpClientSubmit, wire.ClientSubmitRequest{Payload: payload}); err != nil {
			return wire.Reply{}, fmt.Errorf("client: write request: %w", err)
		}

		header, err := wire.ReadHeader(c.conn)
		if err != nil {
			return wire.Reply{}, fmt.Errorf("client: read header: %w", err)
		}
		var resp wire.ClientSubmitReply
		if err := wire.ReadBody(c.conn, header.Length, &resp); err != nil {
			return wire.Reply{}, fmt.Errorf("client: read body: %w", err)
		}

		switch resp.Reason {
		case "ok":
			return wire.DecodeReply(resp.Result)
		case "failed":
			return wire.Reply{}, fmt.Errorf("client: command failed: %s", resp.ErrMessage)
		case "redirect":
			addr, ok := c.peers[resp.LeaderID]
			if !ok {
				return wire.Reply{}, fmt.Errorf("client: redirected to unknown leader %s", resp.LeaderID)
			}
			if err := c.reconnect(addr); err != nil {
				return wire.Reply{}, err
			}
		case "no_leader_yet":
			time.Sleep(noLeaderBackoff)
		default:
			return wire.Reply{}, fmt.Errorf("client: unexpected reason %q", resp.Reason)
		}
	}
	return wire.Reply{}, fmt.Errorf("client: gave up after %d redirects", maxRedirects)
}

// Database returns a handle to a logical database grouping.
func (c *Client) Database(name string) *Database {
	return &Database{client: c, name: name}
}

// Database handle.
type Database struct {
	client *Client
	name   string
}

// Collection returns a handle to a collection.
func (db *Database) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

// Collection handle.
type Collection struct {
	db   *Database
	name string
}

func (c *Collection) meta() wire.RequestMeta {
	return wire.RequestMeta{Database: c.db.name, Collection: c.name}
}

// Insert submits a document for replication and returns its assigned id.
func (c *Collection) Insert(doc map[string]interface{}) (string, error) {
	reply, err := c.db.client.submit(wire.CommandEnvelope{
		Op:     wire.OpInsert,
		Insert: &wire.InsertRequest{RequestMeta: c.meta(), Document: doc},
	})
	if err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", fmt.Errorf("client: insert: %s", reply.Error)
	}
	if len(reply.Docs) == 0 {
		return "", fmt.Errorf("client: insert: no id returned")
	}
	id, _ := reply.Docs[0]["_id"].(string)
	return id, nil
}

// FindQuery submits a read as a replicated command (linearizable read-only
// fast paths are an explicit Non-goal, so every read is routed through the
// log like any other command).
func (c *Collection) FindQuery(query map[string]interface{}, opts ...wire.Options) ([]map[string]interface{}, error) {
	var wireOpts wire.Options
	if len(opts) > 0 {
		wireOpts = opts[0]
	}
	reply, err := c.db.client.submit(wire.CommandEnvelope{
		Op:   wire.OpFind,
		Find: &wire.FindRequest{RequestMeta: c.meta(), Query: query, Options: wireOpts},
	})
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("client: find: %s", reply.Error)
	}
	return reply.Docs, nil
}

// Update applies patch to every document matching filter.
func (c *Collection) Update(filter, patch map[string]interface{}) (int, error) {
	reply, err := c.db.client.submit(wire.CommandEnvelope{
		Op:     wire.OpUpdate,
		Update: &wire.UpdateRequest{RequestMeta: c.meta(), Filter: filter, Update: patch},
	})
	if err != nil {
		return 0, err
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("client: update: %s", reply.Error)
	}
	return reply.Count, nil
}

// Delete removes every document matching filter.
func (c *Collection) Delete(filter map[string]interface{}) (int, error) {
	reply, err := c.db.client.submit(wire.CommandEnvelope{
		Op:     wire.OpDelete,
		Delete: &wire.DeleteRequest{RequestMeta: c.meta(), Filter: filter},
	})
	if err != nil {
		return 0, err
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("client: delete: %s", reply.Error)
	}
	return reply.Count, nil
}
