// Package wire implements the overlay's message framing: a 4-byte
// big-endian length prefix followed by a JSON body, read and written
// over a single transport stream per request/response exchange.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/federatedfm/p2pcore/internal/perrors"
)

// MaxFrameBytes bounds a single frame's JSON body, guarding against a
// peer claiming an absurd length prefix and exhausting memory before
// the read even fails.
const MaxFrameBytes = 16 * 1024 * 1024

// Envelope is the outer wire shape: a type tag plus an opaque
// payload, decoded into one of the *Payload types in messages.go once
// the type is known.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode builds an Envelope around a typed payload.
func Encode(typ Type, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, perrors.Wrap(perrors.Codec, "marshal payload", err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Decode unmarshals an Envelope's payload into out, which must be a
// pointer to the Go type matching env.Type.
func Decode(env Envelope, out interface{}) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return perrors.Wrap(perrors.Codec, fmt.Sprintf("unmarshal %s payload", env.Type), err)
	}
	return nil
}

// WriteMessage frames env as a length-prefixed JSON body and writes it
// to w.
func WriteMessage(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return perrors.Wrap(perrors.Codec, "marshal envelope", err)
	}
	if len(body) > MaxFrameBytes {
		return perrors.New(perrors.Codec, fmt.Sprintf("frame too large: %d bytes", len(body)))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return perrors.Wrap(perrors.Transport, "write frame length", err)
	}
	if _, err := w.Write(body); err != nil {
		return perrors.Wrap(perrors.Transport, "write frame body", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed JSON frame from r and decodes
// its envelope.
func ReadMessage(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, perrors.Wrap(perrors.Transport, "read frame length", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameBytes {
		return Envelope{}, perrors.New(perrors.Codec, fmt.Sprintf("frame too large: %d bytes", length))
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, perrors.Wrap(perrors.Transport, "read frame body", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, perrors.Wrap(perrors.Codec, "unmarshal envelope", err)
	}
	return env, nil
}
