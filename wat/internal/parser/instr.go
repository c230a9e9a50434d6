package parser

import (
	"math"
	"math/bits"
	"slices"
	"strings"

	"github.com/wippyai/wasm-fiber/wat/internal/ast"
	"github.com/wippyai/wasm-fiber/wat/internal/opcode"
	"github.com/wippyai/wasm-fiber/wat/internal/token"
)

// instrs parses instructions in either form until a closing paren or one
// of the stop keywords. Neither is consumed.
func (p *Parser) instrs(sc *scope, stop ...string) ([]ast.Instr, error) {
	var out []ast.Instr
	for {
		t := p.peek()
		switch {
		case t == nil:
			return nil, p.errorf("unexpected end of input in instructions")
		case t.Type == token.RParen:
			return out, nil
		case t.Type == token.LParen:
			p.next()
			code, err := p.folded(sc)
			if err != nil {
				return nil, err
			}
			out = append(out, code...)
		case t.Type == token.Keyword && slices.Contains(stop, t.Value):
			return out, nil
		case t.Type == token.Keyword:
			p.next()
			code, err := p.plain(t.Value, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, code...)
		default:
			return nil, p.errorf("expected instruction, got %s", t)
		}
	}
}

// folded parses a parenthesized instruction whose "(" was consumed,
// through its ")". Operands are emitted before the instruction.
func (p *Parser) folded(sc *scope) ([]ast.Instr, error) {
	kw, err := p.expect(token.Keyword)
	if err != nil {
		return nil, err
	}

	switch kw.Value {
	case "block", "loop":
		label := p.optID()
		bt, err := p.blockType()
		if err != nil {
			return nil, err
		}
		p.labels = append(p.labels, label)
		body, err := p.instrs(sc)
		p.labels = p.labels[:len(p.labels)-1]
		if err != nil {
			return nil, err
		}
		out := append([]ast.Instr{{Opcode: blockOp(kw.Value), Imm: bt}}, body...)
		return append(out, ast.Instr{Opcode: ast.OpEnd}), p.close()

	case "if":
		label := p.optID()
		bt, err := p.blockType()
		if err != nil {
			return nil, err
		}
		var out []ast.Instr
		for !p.open("then") {
			if _, err := p.expect(token.LParen); err != nil {
				return nil, err
			}
			cond, err := p.folded(sc)
			if err != nil {
				return nil, err
			}
			out = append(out, cond...)
		}
		out = append(out, ast.Instr{Opcode: ast.OpIf, Imm: bt})

		p.labels = append(p.labels, label)
		defer func() { p.labels = p.labels[:len(p.labels)-1] }()
		p.pos += 2
		then, err := p.instrs(sc)
		if err != nil {
			return nil, err
		}
		out = append(out, then...)
		if err := p.close(); err != nil {
			return nil, err
		}
		if p.open("else") {
			p.pos += 2
			els, err := p.instrs(sc)
			if err != nil {
				return nil, err
			}
			out = append(out, ast.Instr{Opcode: ast.OpElse})
			out = append(out, els...)
			if err := p.close(); err != nil {
				return nil, err
			}
		}
		return append(out, ast.Instr{Opcode: ast.OpEnd}), p.close()
	}

	ins, err := p.immediate(kw.Value, sc)
	if err != nil {
		return nil, err
	}
	var out []ast.Instr
	for {
		t := p.peek()
		if t == nil || t.Type != token.LParen {
			break
		}
		p.next()
		operand, err := p.folded(sc)
		if err != nil {
			return nil, err
		}
		out = append(out, operand...)
	}
	return append(out, ins), p.close()
}

// plain parses an unparenthesized instruction whose keyword was consumed.
// Blocks run to their end keyword.
func (p *Parser) plain(name string, sc *scope) ([]ast.Instr, error) {
	switch name {
	case "block", "loop", "if":
		label := p.optID()
		bt, err := p.blockType()
		if err != nil {
			return nil, err
		}
		out := []ast.Instr{{Opcode: blockOp(name), Imm: bt}}

		p.labels = append(p.labels, label)
		defer func() { p.labels = p.labels[:len(p.labels)-1] }()
		body, err := p.instrs(sc, "else", "end")
		if err != nil {
			return nil, err
		}
		out = append(out, body...)
		if name == "if" && p.keyword("else") {
			p.next()
			if err := p.endLabel(label); err != nil {
				return nil, err
			}
			els, err := p.instrs(sc, "end")
			if err != nil {
				return nil, err
			}
			out = append(out, ast.Instr{Opcode: ast.OpElse})
			out = append(out, els...)
		}
		if err := p.expectKeyword("end"); err != nil {
			return nil, err
		}
		if err := p.endLabel(label); err != nil {
			return nil, err
		}
		return append(out, ast.Instr{Opcode: ast.OpEnd}), nil

	case "then", "else", "end":
		return nil, p.errorf("unexpected %s", name)
	}

	ins, err := p.immediate(name, sc)
	if err != nil {
		return nil, err
	}
	return []ast.Instr{ins}, nil
}

// endLabel consumes the optional $label repeated after else or end.
func (p *Parser) endLabel(label string) error {
	t := p.peek()
	if t == nil || t.Type != token.ID {
		return nil
	}
	if t.Value != label {
		return p.errorf("mismatched label %s, expected %q", t.Value, label)
	}
	p.next()
	return nil
}

func blockOp(name string) byte {
	switch name {
	case "loop":
		return ast.OpLoop
	case "if":
		return ast.OpIf
	}
	return ast.OpBlock
}

// blockType parses (type x)? (param ...)* (result ...)*.
func (p *Parser) blockType() (ast.BlockType, error) {
	bt := ast.BlockType{TypeIdx: -1, Simple: ast.BlockEmpty}
	if p.open("type") {
		idx, err := p.typeUse(nil)
		if err != nil {
			return bt, err
		}
		bt.TypeIdx = int32(idx)
		return bt, nil
	}
	ft, err := p.signature(nil)
	if err != nil {
		return bt, err
	}
	switch {
	case len(ft.Params) == 0 && len(ft.Results) == 0:
	case len(ft.Params) == 0 && len(ft.Results) == 1:
		bt.Simple = byte(ft.Results[0])
	default:
		bt.TypeIdx = int32(p.typeIndex(ft))
	}
	return bt, nil
}

// immediate parses the immediates of a plain instruction.
func (p *Parser) immediate(name string, sc *scope) (ast.Instr, error) {
	info, ok := opcode.Lookup(name)
	if !ok {
		return ast.Instr{}, p.errorf("unknown instruction %s", name)
	}
	ins := ast.Instr{Opcode: info.Opcode}

	var err error
	switch info.Imm {
	case opcode.ImmNone:
	case opcode.ImmLocal:
		if sc == nil {
			return ins, p.errorf("%s outside a function", name)
		}
		var idx uint32
		if idx, err = p.index(sc.locals, "local"); err == nil && idx >= sc.n {
			err = p.errorf("local index %d out of range", idx)
		}
		ins.Imm = idx
	case opcode.ImmGlobal:
		ins.Imm, err = p.index(p.globals, "global")
	case opcode.ImmFunc:
		ins.Imm, err = p.index(p.funcs, "function")
	case opcode.ImmLabel:
		ins.Imm, err = p.label()
	case opcode.ImmLabels:
		var labels []uint32
		for p.isIndex() {
			l, err := p.label()
			if err != nil {
				return ins, err
			}
			labels = append(labels, l)
		}
		if len(labels) == 0 {
			return ins, p.errorf("br_table needs at least one label")
		}
		ins.Imm = labels
	case opcode.ImmI32:
		var v int64
		v, err = p.integer(32)
		ins.Imm = int32(uint32(v))
	case opcode.ImmI64:
		ins.Imm, err = p.integer(64)
	case opcode.ImmF32:
		var b uint64
		b, err = p.float(32)
		ins.Imm = math.Float32frombits(uint32(b))
	case opcode.ImmF64:
		var b uint64
		b, err = p.float(64)
		ins.Imm = math.Float64frombits(b)
	case opcode.ImmMemarg:
		ins.Imm, err = p.memarg(info.Align)
	case opcode.ImmMemory:
		ins.Imm = byte(0)
	case opcode.ImmSelect:
		if p.open("result") {
			p.pos += 2
			var types []ast.ValType
			types, err = p.valTypes()
			ins = ast.Instr{Opcode: ast.OpSelectTyped, Imm: types}
		}
	case opcode.ImmMisc:
		ins.Imm = info.Sub
	}
	return ins, err
}

// label resolves a branch target to its relative depth.
func (p *Parser) label() (uint32, error) {
	t := p.peek()
	if t != nil && t.Type == token.ID {
		p.next()
		for i := len(p.labels) - 1; i >= 0; i-- {
			if p.labels[i] == t.Value {
				return uint32(len(p.labels) - 1 - i), nil
			}
		}
		return 0, p.errorf("unknown label %s", t.Value)
	}
	depth, err := p.u32()
	if err != nil {
		return 0, err
	}
	if int(depth) > len(p.labels) {
		return 0, p.errorf("branch depth %d out of range", depth)
	}
	return depth, nil
}

// memarg parses optional offset= and align= with align defaulting to the
// natural alignment. Alignment is encoded as its base-2 logarithm.
func (p *Parser) memarg(natural uint32) (ast.Memarg, error) {
	ma := ast.Memarg{Align: natural}
	if t := p.peek(); t != nil && t.Type == token.Keyword && strings.HasPrefix(t.Value, "offset=") {
		p.next()
		_, digits, base := splitNumber(t.Value[len("offset="):])
		v, err := parseUint(digits, base)
		if err != nil {
			return ma, p.errorf("invalid %s", t.Value)
		}
		ma.Offset = v
	}
	if t := p.peek(); t != nil && t.Type == token.Keyword && strings.HasPrefix(t.Value, "align=") {
		p.next()
		_, digits, base := splitNumber(t.Value[len("align="):])
		v, err := parseUint(digits, base)
		if err != nil || v == 0 || v&(v-1) != 0 {
			return ma, p.errorf("invalid %s", t.Value)
		}
		ma.Align = uint32(bits.TrailingZeros32(v))
		if ma.Align > natural {
			return ma, p.errorf("alignment %d exceeds natural alignment", v)
		}
	}
	return ma, nil
}
