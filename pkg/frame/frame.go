// Package frame decodes the camera's response frames out of a chunked
// serial byte stream.
//
// A frame is the sync marker 0xAA 0x55, a 4-byte little-endian payload
// length and exactly that many JPEG bytes. There is no trailer and no
// checksum: a corrupted length or a stray marker ahead of the real one
// leaves the assembler waiting for bytes that never come, and the caller's
// deadline ends the attempt.
package frame

import (
	"bytes"
	"encoding/binary"
)

const (
	// Trigger asks the device for exactly one frame.
	Trigger byte = 'x'

	// LengthSize is the size of the length field after the marker.
	LengthSize = 4
)

// SyncMarker starts every frame.
var SyncMarker = []byte{0xAA, 0x55}

// State is the assembler's position in the protocol.
type State int

const (
	SeekingSync State = iota
	ReadingHeader
	ReadingBody
	Complete
	Timeout
)

func (s State) String() string {
	switch s {
	case SeekingSync:
		return "seeking_sync"
	case ReadingHeader:
		return "reading_header"
	case ReadingBody:
		return "reading_body"
	case Complete:
		return "complete"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Frame is one fully received frame.
type Frame struct {
	Offset  int // stream offset of the sync marker
	Length  uint32
	Payload []byte
}

// Encode builds the wire form of payload, as the device sends it.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(SyncMarker)+LengthSize+len(payload))
	out = append(out, SyncMarker...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// Assembler turns successive reads into a single Frame. It is not safe for
// concurrent use; one capture attempt owns one Assembler.
type Assembler struct {
	state     State
	stalled   State
	buf       []byte
	discarded int
	frame     Frame
	extra     int
}

// NewAssembler returns an assembler waiting for a sync marker.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// State returns the current state.
func (a *Assembler) State() State {
	return a.state
}

// Feed appends p to the buffer and advances as far as the data allows.
// Feeding a finished assembler has no effect.
func (a *Assembler) Feed(p []byte) State {
	if a.state == Complete || a.state == Timeout {
		return a.state
	}
	a.buf = append(a.buf, p...)

	for {
		switch a.state {
		case SeekingSync:
			i := bytes.Index(a.buf, SyncMarker)
			if i < 0 {
				// Only the last byte can still be the first half of a marker.
				if n := len(a.buf); n > 1 {
					a.discard(n - 1)
				}
				return a.state
			}
			a.frame.Offset = a.discarded + i
			a.discard(i + len(SyncMarker))
			a.state = ReadingHeader

		case ReadingHeader:
			if len(a.buf) < LengthSize {
				return a.state
			}
			a.frame.Length = binary.LittleEndian.Uint32(a.buf[:LengthSize])
			a.discard(LengthSize)
			a.state = ReadingBody

		case ReadingBody:
			if uint64(len(a.buf)) < uint64(a.frame.Length) {
				return a.state
			}
			n := int(a.frame.Length)
			a.frame.Payload = make([]byte, n)
			copy(a.frame.Payload, a.buf[:n])
			a.extra = len(a.buf) - n
			a.buf = nil
			a.state = Complete
			return a.state

		default:
			return a.state
		}
	}
}

func (a *Assembler) discard(n int) {
	a.discarded += n
	a.buf = append(a.buf[:0], a.buf[n:]...)
}

// Expire ends an unfinished attempt. It returns the state the assembler
// was stuck in, or Complete if the frame had already arrived.
func (a *Assembler) Expire() State {
	if a.state == Complete {
		return Complete
	}
	if a.state != Timeout {
		a.stalled = a.state
		a.buf = nil
		a.state = Timeout
	}
	return a.stalled
}

// Frame returns the completed frame.
func (a *Assembler) Frame() (Frame, bool) {
	if a.state != Complete {
		return Frame{}, false
	}
	return a.frame, true
}

// DeclaredLength returns the length field once the header has been read.
func (a *Assembler) DeclaredLength() (uint32, bool) {
	if a.state == SeekingSync || a.state == ReadingHeader {
		return 0, false
	}
	if a.state == Timeout && (a.stalled == SeekingSync || a.stalled == ReadingHeader) {
		return 0, false
	}
	return a.frame.Length, true
}

// Buffered returns the number of bytes held but not yet consumed.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Extra returns how many bytes past the payload were dropped on completion.
func (a *Assembler) Extra() int {
	return a.extra
}
