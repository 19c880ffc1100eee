package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/senutpal/synod/internal/paxos"
)

// MaxFrameSize bounds a frame's payload.
const MaxFrameSize = 1 << 20

// WriteFrame writes v as a 4 byte big-endian length followed by its JSON
// encoding.
func WriteFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame into v. It returns io.EOF only when the stream
// ends cleanly between frames.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	l := binary.BigEndian.Uint32(lenBuf[:])
	if l > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, l)
	}
	data := make([]byte, l)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// ReadMessage reads a request frame and checks its type tag.
func ReadMessage(r io.Reader) (*paxos.Message, error) {
	var m paxos.Message
	if err := ReadFrame(r, &m); err != nil {
		return nil, err
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return &m, nil
}
