package meter

import (
	"fmt"

	"github.com/wippyai/wasm-fiber/errors"
)

// Opcodes with structure or immediates the rewriter cares about.
const (
	opUnreachable  byte = 0x00
	opBlock        byte = 0x02
	opLoop         byte = 0x03
	opIf           byte = 0x04
	opElse         byte = 0x05
	opEnd          byte = 0x0B
	opBr           byte = 0x0C
	opBrIf         byte = 0x0D
	opBrTable      byte = 0x0E
	opReturn       byte = 0x0F
	opCall         byte = 0x10
	opCallIndirect byte = 0x11
	opReturnCall   byte = 0x12
	opReturnCallIn byte = 0x13
	opCallRef      byte = 0x14
	opReturnCallRf byte = 0x15
	opSelectT      byte = 0x1C
	opI32Const     byte = 0x41
	opI64Const     byte = 0x42
	opF32Const     byte = 0x43
	opF64Const     byte = 0x44
	opRefNull      byte = 0xD0
	opRefIsNull    byte = 0xD1
	opRefFunc      byte = 0xD2
	opRefAsNonNull byte = 0xD3
	opBrOnNull     byte = 0xD4
	opBrOnNonNull  byte = 0xD5
	opPrefixGC     byte = 0xFB
	opPrefixMisc   byte = 0xFC
	opPrefixSIMD   byte = 0xFD
	opPrefixAtomic byte = 0xFE
)

type remapFunc func(uint32) uint32

// instrumentBody rewrites one code-section body, charging fuel at the
// start of every straight-line segment. It returns the new body and the
// number of charge points inserted.
func instrumentBody(body []byte, fuelIdx uint32, remap remapFunc) ([]byte, int, error) {
	r := newReader(body)

	groups, err := r.readU32()
	if err != nil {
		return nil, 0, r.parseError("locals", err)
	}
	for i := uint32(0); i < groups; i++ {
		if _, err := r.readU32(); err != nil {
			return nil, 0, r.parseError("locals", err)
		}
		if err := skipValType(r); err != nil {
			return nil, 0, r.parseError("locals", err)
		}
	}

	var out, seg writer
	out.write(body[:r.pos])

	charges := 0
	instrs := 0
	depth := 1
	for !r.done() {
		op, err := r.readByte()
		if err != nil {
			return nil, 0, r.parseError("code", err)
		}
		if err := copyInstr(op, r, &seg, remap); err != nil {
			return nil, 0, r.parseError("code", err)
		}
		instrs++

		boundary := false
		switch op {
		case opBlock, opLoop, opIf:
			depth++
			boundary = true
		case opElse:
			boundary = true
		case opEnd:
			depth--
			boundary = true
		}
		if !boundary {
			continue
		}

		emitCharge(&out, instrs, fuelIdx)
		out.write(seg.data())
		seg.reset()
		instrs = 0
		charges++

		if depth == 0 {
			if !r.done() {
				return nil, 0, r.parseError("code", fmt.Errorf("%d trailing bytes after function end", len(body)-r.pos))
			}
			return out.data(), charges, nil
		}
	}
	return nil, 0, r.parseError("code", fmt.Errorf("function body not terminated"))
}

// emitCharge writes `i32.const cost; call fuelIdx`.
func emitCharge(w *writer, cost int, fuelIdx uint32) {
	w.u8(opI32Const)
	w.s64(int64(cost))
	w.u8(opCall)
	w.u32(fuelIdx)
}

// copyExpr copies a constant expression up to and including its end.
func copyExpr(r *reader, w *writer, remap remapFunc) error {
	for {
		op, err := r.readByte()
		if err != nil {
			return err
		}
		if err := copyInstr(op, r, w, remap); err != nil {
			return err
		}
		if op == opEnd {
			return nil
		}
	}
}

// copyInstr writes op and its immediates, renumbering function indices.
func copyInstr(op byte, r *reader, w *writer, remap remapFunc) error {
	w.u8(op)

	switch op {
	case opBlock, opLoop, opIf:
		return copyLEB(r, w) // block type, s33

	case opBr, opBrIf, opBrOnNull, opBrOnNonNull:
		return copyLEB(r, w)

	case opBrTable:
		n, err := r.readU32()
		if err != nil {
			return err
		}
		w.u32(n)
		for i := uint32(0); i <= n; i++ {
			if err := copyLEB(r, w); err != nil {
				return err
			}
		}
		return nil

	case opCall, opReturnCall, opRefFunc:
		idx, err := r.readU32()
		if err != nil {
			return err
		}
		w.u32(remap(idx))
		return nil

	case opCallIndirect, opReturnCallIn:
		if err := copyLEB(r, w); err != nil { // type index
			return err
		}
		return copyLEB(r, w) // table index

	case opCallRef, opReturnCallRf:
		return copyLEB(r, w)

	case opSelectT:
		n, err := r.readU32()
		if err != nil {
			return err
		}
		w.u32(n)
		for i := uint32(0); i < n; i++ {
			if err := copyValType(r, w); err != nil {
				return err
			}
		}
		return nil

	case 0x20, 0x21, 0x22, 0x23, 0x24, // local.get/set/tee, global.get/set
		0x25, 0x26, // table.get/set
		0x3F, 0x40, // memory.size/grow
		opI32Const, opI64Const, opRefNull:
		return copyLEB(r, w)

	case opF32Const:
		return copyFixed(r, w, 4)

	case opF64Const:
		return copyFixed(r, w, 8)

	case opPrefixMisc:
		return copyMisc(r, w)

	case opPrefixSIMD:
		return copySIMD(r, w)

	case opPrefixAtomic:
		return errors.Unsupported(errors.PhaseCompile, "threads proposal (0xFE prefix)")

	case opPrefixGC:
		return errors.Unsupported(errors.PhaseCompile, "GC proposal (0xFB prefix)")

	case 0x06, 0x07, 0x08, 0x09, 0x18, 0x19, 0x1F:
		return errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("exception handling opcode 0x%02x", op))
	}

	switch {
	case op >= 0x28 && op <= 0x3E:
		return copyMemArg(r, w)
	case op == opUnreachable, op == 0x01, op == opElse, op == opEnd, op == opReturn,
		op == 0x1A, op == 0x1B, // drop, select
		op >= 0x45 && op <= 0xC4, // numeric
		op == opRefIsNull, op == opRefAsNonNull:
		return nil
	}
	return fmt.Errorf("unknown opcode 0x%02x", op)
}

func copyMisc(r *reader, w *writer) error {
	sub, err := r.readU32()
	if err != nil {
		return err
	}
	w.u32(sub)

	var immediates int
	switch {
	case sub <= 7: // trunc_sat
		immediates = 0
	case sub == 8: // memory.init dataidx memidx
		immediates = 2
	case sub == 9: // data.drop
		immediates = 1
	case sub == 10: // memory.copy
		immediates = 2
	case sub == 11: // memory.fill
		immediates = 1
	case sub == 12: // table.init elemidx tableidx
		immediates = 2
	case sub == 13: // elem.drop
		immediates = 1
	case sub == 14: // table.copy
		immediates = 2
	case sub >= 15 && sub <= 17: // table.grow/size/fill
		immediates = 1
	default:
		return fmt.Errorf("unknown 0xFC sub-opcode %d", sub)
	}
	for i := 0; i < immediates; i++ {
		if err := copyLEB(r, w); err != nil {
			return err
		}
	}
	return nil
}

func copySIMD(r *reader, w *writer) error {
	sub, err := r.readU32()
	if err != nil {
		return err
	}
	w.u32(sub)

	switch {
	case sub <= 11, sub == 92, sub == 93: // loads, stores, load_zero
		return copyMemArg(r, w)
	case sub == 12, sub == 13: // v128.const, i8x16.shuffle
		return copyFixed(r, w, 16)
	case sub >= 21 && sub <= 34: // extract/replace lane
		return copyFixed(r, w, 1)
	case sub >= 84 && sub <= 91: // load/store lane
		if err := copyMemArg(r, w); err != nil {
			return err
		}
		return copyFixed(r, w, 1)
	}
	return nil
}

// copyMemArg copies align, an optional memory index and offset.
func copyMemArg(r *reader, w *writer) error {
	raw, align, err := r.readLEB()
	if err != nil {
		return err
	}
	w.write(raw)
	if align&0x40 != 0 {
		if err := copyLEB(r, w); err != nil {
			return err
		}
	}
	return copyLEB(r, w)
}

func copyLEB(r *reader, w *writer) error {
	raw, _, err := r.readLEB()
	if err != nil {
		return err
	}
	w.write(raw)
	return nil
}

func copyFixed(r *reader, w *writer, n int) error {
	b, err := r.readBytes(n)
	if err != nil {
		return err
	}
	w.write(b)
	return nil
}

func skipValType(r *reader) error {
	b, err := r.readByte()
	if err != nil {
		return err
	}
	if b == 0x63 || b == 0x64 { // (ref null ht), (ref ht)
		_, _, err = r.readLEB()
	}
	return err
}

func copyValType(r *reader, w *writer) error {
	start := r.pos
	if err := skipValType(r); err != nil {
		return err
	}
	w.write(r.data[start:r.pos])
	return nil
}
