package encoder

import (
	"encoding/binary"
	"math"
)

type Buffer struct {
	Bytes []byte
}

func (b *Buffer) AppendByte(v byte) {
	b.Bytes = append(b.Bytes, v)
}

func (b *Buffer) WriteBytes(v []byte) {
	b.Bytes = append(b.Bytes, v...)
}

// WriteU32 writes unsigned LEB128 encoding.
func (b *Buffer) WriteU32(v uint32) {
	for {
		byt := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			byt |= 0x80
		}
		b.AppendByte(byt)
		if v == 0 {
			return
		}
	}
}

// WriteI64 writes signed LEB128 encoding. i32 and block type indices use
// the same encoding with a narrower range.
func (b *Buffer) WriteI64(v int64) {
	for {
		byt := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && byt&0x40 == 0) || (v == -1 && byt&0x40 != 0) {
			b.AppendByte(byt)
			return
		}
		b.AppendByte(byt | 0x80)
	}
}

func (b *Buffer) WriteF32(v float32) {
	b.Bytes = binary.LittleEndian.AppendUint32(b.Bytes, math.Float32bits(v))
}

func (b *Buffer) WriteF64(v float64) {
	b.Bytes = binary.LittleEndian.AppendUint64(b.Bytes, math.Float64bits(v))
}

func (b *Buffer) WriteString(s string) {
	b.WriteU32(uint32(len(s)))
	b.Bytes = append(b.Bytes, s...)
}

func (b *Buffer) WriteLimits(min uint32, max *uint32) {
	if max == nil {
		b.AppendByte(0x00)
		b.WriteU32(min)
		return
	}
	b.AppendByte(0x01)
	b.WriteU32(min)
	b.WriteU32(*max)
}
