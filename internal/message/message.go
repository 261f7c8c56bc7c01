// Package message defines the wire record exchanged between council
// members and its framing on a TCP connection.
package message

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Type enumerates the six message kinds the protocol ever sends.
type Type string

const (
	Prepare       Type = "PREPARE"
	Promise       Type = "PROMISE"
	Reject        Type = "REJECT"
	AcceptRequest Type = "ACCEPT_REQUEST"
	Accepted      Type = "ACCEPTED"
	Learn         Type = "LEARN"
)

// maxFrameSize guards against a corrupt or hostile length prefix turning
// into an unbounded allocation; no real council message approaches this.
const maxFrameSize = 1 << 20

// Message is the immutable record carried by every Paxos exchange. It is
// serialized as length-prefixed JSON: a 4-byte big-endian length prefix
// followed by the JSON body, the framing style used throughout the pack's
// hand-rolled TCP peers.
type Message struct {
	Type           Type   `json:"type"`
	Value          string `json:"value"`
	ProposalNumber int    `json:"proposalNumber"`
	SenderID       string `json:"senderId"`
}

// Encode writes the framed message to w.
func (m Message) Encode(w io.Writer) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// Decode reads exactly one framed message from r.
func Decode(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return Message{}, fmt.Errorf("frame size %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("read frame body: %w", err)
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame body: %w", err)
	}
	return m, nil
}
