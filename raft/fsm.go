package raft

// StateMachine is the embedding application that committed Client commands
// are applied to. Bundoc's Database implements this by decoding Payload
// into one of its CRUD operations and executing it against the collection
// store.
type StateMachine interface {
	// Apply executes a committed, opaque client command and returns the
	// bytes to report back to the caller that submitted it (if still
	// waiting) or to a future read.
	Apply(payload []byte) ([]byte, error)
}
