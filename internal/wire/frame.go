// Package wire implements the length-prefixed, CBOR-encoded framing
// protocol described in spec.md §4.A: an 8-byte big-endian length
// header followed by that many payload bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// chunkSize bounds individual writes the way the original
// implementation chunks sends to stay under typical path MTUs (see
// SPEC_FULL.md "Chunked wire writes"). It has no effect on the framing
// itself — just how many syscalls a large payload costs.
const chunkSize = 1400

// ErrClosed is returned by ReadFrame when the peer closed the
// connection cleanly before sending a length header (a zero-length
// read, not a mid-frame error).
var ErrClosed = errors.New("wire: connection closed")

// WriteFrame writes the 8-byte length header followed by payload,
// chunked into chunkSize writes.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write length header: %w", err)
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > chunkSize {
			n = chunkSize
		}
		if _, err := w.Write(payload[:n]); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
		payload = payload[n:]
	}
	return nil
}

// ReadFrame reads one frame: the 8-byte length header, then exactly
// that many payload bytes. A read that returns zero bytes on the
// length header (io.EOF before any byte arrives) is reported as
// ErrClosed, matching spec.md §4.A's "clean client disconnect, not an
// error".
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("wire: read length header: %w", err)
	}
	size := binary.BigEndian.Uint64(header[:])
	if size == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

// EncodeCBOR serializes v as a CBOR payload.
func EncodeCBOR(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode cbor: %w", err)
	}
	return b, nil
}

// DecodeCBOR deserializes payload into v.
func DecodeCBOR(payload []byte, v any) error {
	if err := cbor.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("wire: decode cbor: %w", err)
	}
	return nil
}

// WriteCBOR is a convenience wrapper combining EncodeCBOR and
// WriteFrame.
func WriteCBOR(w io.Writer, v any) error {
	payload, err := EncodeCBOR(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadCBOR reads one frame and decodes it into v.
func ReadCBOR(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return ErrClosed
	}
	return DecodeCBOR(payload, v)
}
