// Package message defines the wire record produced by the publisher,
// delivered to sessions, and acknowledged by clients.
package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ClientID is an opaque, process-lifetime-unique identifier assigned to a
// session at connect time: "<prefix>-<counter>".
type ClientID string

// Message is the immutable record the publisher produces and the
// dispatcher fans out. Once published it is never mutated; sessions only
// ever read it.
type Message struct {
	Seq       uint64 // monotonically increasing, starts at 1
	PublishTS int64  // monotonic nanoseconds at production time
	Payload   []byte // opaque, fixed-size per run
}

// wireMessage is the JSON text-frame encoding of Message. payload is
// base64 because JSON has no native byte-string type.
type wireMessage struct {
	Seq     uint64 `json:"seq"`
	TS      int64  `json:"ts"`
	Payload string `json:"payload"`
}

// Encode serializes m as a JSON text frame.
func (m Message) Encode() ([]byte, error) {
	w := wireMessage{
		Seq:     m.Seq,
		TS:      m.PublishTS,
		Payload: base64.StdEncoding.EncodeToString(m.Payload),
	}
	return json.Marshal(w)
}

// Decode parses a JSON text frame produced by Encode. Unknown fields are
// ignored by json.Unmarshal's default behavior.
func Decode(b []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return Message{}, fmt.Errorf("message: decode: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(w.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("message: decode payload: %w", err)
	}
	return Message{Seq: w.Seq, PublishTS: w.TS, Payload: payload}, nil
}

// Ack is a client-originated frame acknowledging receipt of a Message.
type Ack struct {
	AckSeq uint64 `json:"ack_seq"`
}

// Encode serializes a as a JSON text frame.
func (a Ack) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAck parses a client ACK frame. Unknown fields are ignored.
func DecodeAck(b []byte) (Ack, error) {
	var a Ack
	if err := json.Unmarshal(b, &a); err != nil {
		return Ack{}, fmt.Errorf("message: decode ack: %w", err)
	}
	return a, nil
}

// Hello is the optional first frame a client may send to negotiate its
// ClientID prefix. Absent or malformed, the session falls back to the
// default prefix.
type Hello struct {
	Prefix string `json:"hello"`
}

// DecodeHello attempts to parse the first client frame as a Hello. A
// decode error or an empty prefix is not fatal to the caller.
func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(b, &h); err != nil {
		return Hello{}, fmt.Errorf("message: decode hello: %w", err)
	}
	return h, nil
}
