// Package wire defines the binary network protocol for Zerodb.
//
// Protocol Format:
//
//	[Header (5 bytes)] + [Body (CBOR)]
//
// Header:
//   - OpCode (1 byte): Operation type (Insert, Find, RequestVote, ...)
//   - Length (4 bytes): Uint32 Big-Endian size of Body
//
// Body:
//   - CBOR encoded payload corresponding to the OpCode. CBOR (rather than
//     JSON) is used here because log entries and RPC payloads carry opaque
//     binary command bytes that would otherwise need base64 round-tripping.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// OpCode defines the operation type for the wire protocol.
type OpCode uint8

const (
	OpInsert OpCode = 1
	OpFind   OpCode = 2
	OpUpdate OpCode = 3
	OpDelete OpCode = 4

	// Server Responses
	OpReply     OpCode = 10
	OpError     OpCode = 11
	OpAuthReply OpCode = 14

	// Raft Consensus (Internal peer protocol)
	OpRequestVote      OpCode = 12
	OpAppendEntries    OpCode = 13
	OpRequestVoteReply OpCode = 15
	OpAppendEntriesReply OpCode = 16

	// Reserved: no role task constructs these yet (see raft.PeerRPC docs).
	OpInstallSnapshot      OpCode = 17
	OpInstallSnapshotReply OpCode = 18
	OpTimeoutNow           OpCode = 19

	// Authentication
	OpAuth OpCode = 20

	// Client-submitted opaque commands, threaded through raft.ClientRequest.
	OpClientSubmit OpCode = 21
)

// Header is the fixed-size message header (5 bytes).
type Header struct {
	OpCode OpCode
	Length uint32 // Length of the CBOR body
}

const HeaderSize = 5

var encMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err) // options are a compile-time constant; cannot fail at runtime
	}
	return mode
}()

// WriteMessage writes a message (OpCode + Body) to the writer.
func WriteMessage(w io.Writer, op OpCode, body interface{}) error {
	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = encMode.Marshal(body)
		if err != nil {
			return fmt.Errorf("wire: marshal body: %w", err)
		}
	}

	header := make([]byte, HeaderSize)
	header[0] = byte(op)
	binary.BigEndian.PutUint32(header[1:], uint32(len(bodyBytes)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(bodyBytes) > 0 {
		if _, err := w.Write(bodyBytes); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads and decodes the message header.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	return Header{
		OpCode: OpCode(buf[0]),
		Length: binary.BigEndian.Uint32(buf[1:]),
	}, nil
}

// EncodeReply serializes a Reply for use as a committed command's applied
// result (raft.ClientResponse.Result / raft.StateMachine.Apply's return).
func EncodeReply(r Reply) ([]byte, error) {
	return encMode.Marshal(r)
}

// DecodeReply deserializes a Reply from an applied result's bytes.
func DecodeReply(result []byte) (Reply, error) {
	var r Reply
	if len(result) == 0 {
		return r, nil
	}
	err := cbor.Unmarshal(result, &r)
	return r, err
}

// EncodeCommand serializes a CommandEnvelope for use as a
// raft.ClientRequest's Payload.
func EncodeCommand(cmd CommandEnvelope) ([]byte, error) {
	return encMode.Marshal(cmd)
}

// DecodeCommand deserializes a CommandEnvelope from a committed
// raft.LogEntry's Command.ClientRequest bytes.
func DecodeCommand(payload []byte) (CommandEnvelope, error) {
	var cmd CommandEnvelope
	err := cbor.Unmarshal(payload, &cmd)
	return cmd, err
}

// ReadBody reads length bytes and decodes them into v as CBOR.
func ReadBody(r io.Reader, length uint32, v interface{}) error {
	if length == 0 {
		return nil
	}
	lr := io.LimitReader(r, int64(length))
	buf := make([]byte, length)
	if _, err := io.ReadFull(lr, buf); err != nil {
		return fmt.Errorf("wire: read body: %w", err)
	}
	return cbor.Unmarshal(buf, v)
}
