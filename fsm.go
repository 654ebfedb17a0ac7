package bundoc

import (
	"fmt"

	"github.com/kartikbazzad/zerodb/mvcc"
	"github.com/kartikbazzad/zerodb/rules"
	"github.com/kartikbazzad/zerodb/storage"
	"github.com/kartikbazzad/zerodb/wire"
)

// adminAuth bypasses the CEL rules engine entirely (Collection.evaluateRule's
// documented IsAdmin shortcut): a command reaching Apply has already been
// ordered and authorized once, at submission time, by whichever node
// accepted it as leader. Re-running rule evaluation here would just repeat
// the same decision against a possibly different node's clock and cache
// state.
var adminAuth = &rules.AuthContext{IsAdmin: true}

// Apply satisfies raft.StateMachine. It decodes a committed log entry's
// opaque payload into a CommandEnvelope and executes it against the
// database's CRUD surface inside its own transaction, so that a command
// that partially fails does not leave a torn write in the log's wake.
func (db *Database) Apply(payload []byte) ([]byte, error) {
	cmd, err := wire.DecodeCommand(payload)
	if err != nil {
		return nil, fmt.Errorf("bundoc: decode command: %w", err)
	}

	switch cmd.Op {
	case wire.OpInsert:
		return db.applyInsert(cmd.Insert)
	case wire.OpFind:
		return db.applyFind(cmd.Find)
	case wire.OpUpdate:
		return db.applyUpdate(cmd.Update)
	case wire.OpDelete:
		return db.applyDelete(cmd.Delete)
	default:
		return nil, fmt.Errorf("bundoc: unsupported command op %d", cmd.Op)
	}
}

// collectionFor resolves the named collection, creating it on first write if
// it does not exist yet. Every replica applies the same sequence of
// committed entries in the same order, so an implicit create-on-first-insert
// here stays consistent across the cluster without a separate schema
// management RPC.
func (db *Database) collectionFor(name string, createIfMissing bool) (*Collection, error) {
	coll, err := db.GetCollection(name)
	if err == nil {
		return coll, nil
	}
	if !createIfMissing {
		return nil, err
	}
	return db.CreateCollection(name)
}

func (db *Database) applyInsert(req *wire.InsertRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("bundoc: apply insert: nil request")
	}
	coll, err := db.collectionFor(req.Collection, true)
	if err != nil {
		return nil, err
	}

	txn, err := db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}

	doc := storage.Document(req.Document)
	if err := coll.Insert(adminAuth, txn, doc); err != nil {
		db.RollbackTransaction(txn)
		return wire.EncodeReply(wire.Reply{Error: err.Error()})
	}
	if err := db.CommitTransaction(txn); err != nil {
		return nil, err
	}

	id, _ := doc.GetID()
	return wire.EncodeReply(wire.Reply{Docs: []map[string]interface{}{{"_id": string(id)}}})
}

func (db *Database) applyFind(req *wire.FindRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("bundoc: apply find: nil request")
	}
	coll, err := db.collectionFor(req.Collection, false)
	if err != nil {
		return wire.EncodeReply(wire.Reply{Error: err.Error()})
	}

	txn, err := db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer db.RollbackTransaction(txn)

	opts := QueryOptions{
		SortField: req.Options.SortField,
		SortDesc:  req.Options.SortDesc,
		Limit:     req.Options.Limit,
		Skip:      req.Options.Skip,
	}
	docs, err := coll.FindQuery(adminAuth, txn, req.Query, opts)
	if err != nil {
		return wire.EncodeReply(wire.Reply{Error: err.Error()})
	}
	return wire.EncodeReply(wire.Reply{Docs: toReplyDocs(docs), Count: len(docs)})
}

func (db *Database) applyUpdate(req *wire.UpdateRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("bundoc: apply update: nil request")
	}
	coll, err := db.collectionFor(req.Collection, false)
	if err != nil {
		return wire.EncodeReply(wire.Reply{Error: err.Error()})
	}

	txn, err := db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}

	matches, err := coll.FindQuery(adminAuth, txn, req.Filter)
	if err != nil {
		db.RollbackTransaction(txn)
		return wire.EncodeReply(wire.Reply{Error: err.Error()})
	}

	updated := 0
	for _, doc := range matches {
		id, ok := doc.GetID()
		if !ok {
			continue
		}
		if err := coll.Patch(adminAuth, txn, string(id), req.Update); err != nil {
			db.RollbackTransaction(txn)
			return wire.EncodeReply(wire.Reply{Error: err.Error()})
		}
		updated++
	}
	if err := db.CommitTransaction(txn); err != nil {
		return nil, err
	}
	return wire.EncodeReply(wire.Reply{Count: updated})
}

func (db *Database) applyDelete(req *wire.DeleteRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("bundoc: apply delete: nil request")
	}
	coll, err := db.collectionFor(req.Collection, false)
	if err != nil {
		return wire.EncodeReply(wire.Reply{Error: err.Error()})
	}

	txn, err := db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}

	matches, err := coll.FindQuery(adminAuth, txn, req.Filter)
	if err != nil {
		db.RollbackTransaction(txn)
		return wire.EncodeReply(wire.Reply{Error: err.Error()})
	}

	deleted := 0
	for _, doc := range matches {
		id, ok := doc.GetID()
		if !ok {
			continue
		}
		if err := coll.Delete(adminAuth, txn, string(id)); err != nil {
			db.RollbackTransaction(txn)
			return wire.EncodeReply(wire.Reply{Error: err.Error()})
		}
		deleted++
	}
	if err := db.CommitTransaction(txn); err != nil {
		return nil, err
	}
	return wire.EncodeReply(wire.Reply{Count: deleted})
}

func toReplyDocs(docs []storage.Document) []map[string]interface{} {
	out := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		out[i] = map[string]interface{}(d)
	}
	return out
}
