package meter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrOverflow is returned when a LEB128 value exceeds the maximum size.
var ErrOverflow = errors.New("leb128: overflow")

// reader walks a byte slice with position tracking.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) done() bool {
	return r.pos >= len(r.data)
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// readU32 reads an unsigned LEB128 encoded uint32.
func (r *reader) readU32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, r.wrapError(ErrOverflow)
		}
	}
}

// readLEB returns the raw bytes of one LEB128 value of any width along with
// its unsigned interpretation.
func (r *reader) readLEB() ([]byte, uint64, error) {
	start := r.pos
	var result uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return nil, 0, err
		}
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		if b&0x80 == 0 {
			return r.data[start:r.pos], result, nil
		}
		shift += 7
		if shift >= 70 {
			return nil, 0, r.wrapError(ErrOverflow)
		}
	}
}

// readName reads a length-prefixed name and returns its contents.
func (r *reader) readName() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (r *reader) parseError(section string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}

// writer provides buffered writing utilities for wasm binary encoding.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) data() []byte {
	return w.buf.Bytes()
}

func (w *writer) size() int {
	return w.buf.Len()
}

func (w *writer) reset() {
	w.buf.Reset()
}

func (w *writer) u8(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) write(data []byte) {
	w.buf.Write(data)
}

// u32 writes an unsigned LEB128 encoded uint32.
func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// s64 writes a signed LEB128 encoded int64.
func (w *writer) s64(v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && (b&0x40) == 0) || (v == -1 && (b&0x40) != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.buf.WriteByte(b)
	}
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

// section writes id, size and payload.
func (w *writer) section(id byte, payload []byte) {
	w.u8(id)
	w.u32(uint32(len(payload)))
	w.write(payload)
}
