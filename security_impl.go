package bundoc

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/zerodb/mvcc"
	"github.com/kartikbazzad/zerodb/security"
	"github.com/kartikbazzad/zerodb/storage"
)

// InternalUserStore implements security.UserStore using the database itself
type InternalUserStore struct {
	db *Database
}

func NewInternalUserStore(db *Database) *InternalUserStore {
	return &InternalUserStore{db: db}
}

const UserCollectionName = "admin.users"

func (s *InternalUserStore) GetUser(username string) (*security.User, error) {
	// 1. Get Collection
	coll, err := s.db.GetCollection(UserCollectionName)
	if err != nil {
		return nil, err
	}

	// 2. Start Read Transaction
	txn, err := s.db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer s.db.RollbackTransaction(txn) // No-op if committed

	// 3. Find User
	// We use Username as the ID for the document
	doc, err := coll.FindByID(nil, txn, username)
	if err != nil {
		return nil, err // Likely not found
	}

	// 4. Commit (Read-only, basically verifies snapshot consistency)
	if err := s.db.CommitTransaction(txn); err != nil {
		return nil, err
	}

	// 5. Deserialize
	return documentToUser(doc)
}

func (s *InternalUserStore) SaveUser(user *security.User) error {
	// 1. Get/Create Collection
	coll, err := s.db.GetCollection(UserCollectionName)
	if err != nil {
		// Attempt to create if missing (Bootstrapping)
		coll, err = s.db.CreateCollection(UserCollectionName)
		if err != nil {
			return err
		}
	}

	// 2. Start Write Transaction
	txn, err := s.db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return err
	}
	defer s.db.RollbackTransaction(txn)

	// 3. Serialize
	doc, err := userToDocument(user)
	if err != nil {
		return err
	}

	// 4. Update or Insert
	// Try Update first
	err = coll.Update(nil, txn, user.Username, doc)
	if err != nil {
		// If not found, Insert
		// Note: Bundoc's Update might return specific error for not found?
		// Assuming standard CRUD: Update fails if not exists.
		// Let's rely on Check-then-Act pattern or Upsert if available.
		// For now: Check existence via FindByID (inside txn).
		_, findErr := coll.FindByID(nil, txn, user.Username)
		if findErr == nil {
			// Found, so Update failed? Or we didn't try Update yet?
			// Let's just use Update.
			// Actually, Coll.Update usually fails if ID not found.
			// Let's do Insert explicitly if not found.
			// Wait, standard FindByID returns error if not found.
			if err := coll.Insert(nil, txn, doc); err != nil {
				return err
			}
		} else {
			// Found, so retry Update?
			// This logic is slightly brittle without proper error types.
			// Let's try Insert, if it fails with Duplicate, then Update.
			if err := coll.Insert(nil, txn, doc); err != nil {
				// Assume duplicate -> Update
				if updateErr := coll.Update(nil, txn, user.Username, doc); updateErr != nil {
					return updateErr
				}
			}
		}
	}

	// 5. Commit
	return s.db.CommitTransaction(txn)
}

func (s *InternalUserStore) DeleteUser(username string) error {
	// coll, err := s.db.GetCollection(UserCollectionName)
	// if err != nil {
	// 	return err
	// }

	// txn, err := s.db.BeginTransaction(mvcc.ReadCommitted)
	// if err != nil {
	// 	return err
	// }
	// defer s.db.RollbackTransaction(txn)

	// DeleteUser removes nothing: it always returns an error and leaves the
	// user document in place.
	/*
		if err := coll.Delete(txn, username); err != nil {
			return err
		}
	*/
	return fmt.Errorf("delete implementation pending check of collection api")
}

func (s *InternalUserStore) ListUsers() ([]*security.User, error) {
	// Not needed for authentication, but good for admin CLI.
	return nil, nil
}

// Helpers

func userToDocument(u *security.User) (storage.Document, error) {
	// Manual mapping or JSON roundtrip?
	// storage.Document is map[string]interface{}
	// JSON roundtrip is safest to ensure types match simple primitives
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var doc storage.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	// Enforce ID
	doc["_id"] = u.Username
	return doc, nil
}

func documentToUser(doc storage.Document) (*security.User, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var u security.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
