package parser

import (
	"fmt"

	"github.com/wippyai/wasm-fiber/wat/internal/ast"
	"github.com/wippyai/wasm-fiber/wat/internal/token"
)

func (p *Parser) parseModule() (*ast.Module, error) {
	if err := p.enter("module"); err != nil {
		return nil, err
	}
	p.optID()
	p.mod = &ast.Module{}

	body := p.pos
	if err := p.prescan(); err != nil {
		return nil, err
	}
	p.pos = body

	for {
		t := p.peek()
		if t == nil {
			return nil, p.errorf("unexpected end of module")
		}
		if t.Type == token.RParen {
			p.next()
			break
		}
		if _, err := p.expect(token.LParen); err != nil {
			return nil, err
		}
		kw, err := p.expect(token.Keyword)
		if err != nil {
			return nil, err
		}

		switch kw.Value {
		case "type":
			// Parsed by prescan.
			err = p.skipGroup()
		case "import":
			err = p.parseImport()
		case "func":
			err = p.parseFunc()
		case "memory":
			err = p.parseMemory()
		case "global":
			err = p.parseGlobal()
		case "export":
			err = p.parseExport()
		case "start":
			err = p.parseStart()
		case "data":
			err = p.parseData()
		default:
			err = p.errorf("unsupported module field %s", kw.Value)
		}
		if err != nil {
			return nil, err
		}
	}

	if t := p.peek(); t != nil {
		return nil, p.errorf("unexpected %s after module", t)
	}
	return p.mod, nil
}

// prescan defines the named types and assigns every function, global and
// memory its index so bodies can refer to fields declared later.
func (p *Parser) prescan() error {
	var funcs, globals, mems uint32
	assign := func(kind, id string) {
		var names map[string]uint32
		var n *uint32
		switch kind {
		case "func":
			names, n = p.funcs, &funcs
		case "global":
			names, n = p.globals, &globals
		case "memory":
			names, n = p.mems, &mems
		default:
			return
		}
		if id != "" {
			names[id] = *n
		}
		*n++
	}

	for {
		t := p.peek()
		if t == nil || t.Type != token.LParen {
			return nil
		}
		p.next()
		kw, err := p.expect(token.Keyword)
		if err != nil {
			return err
		}

		switch kw.Value {
		case "type":
			if err := p.parseType(); err != nil {
				return err
			}
			continue
		case "import":
			// (import "m" "n" (kind $id? ...))
			for p.peek() != nil && p.peek().Type == token.String {
				p.next()
			}
			if p.peek() != nil && p.peek().Type == token.LParen {
				p.next()
				if k := p.next(); k != nil && k.Type == token.Keyword {
					assign(k.Value, p.optID())
				}
				if err := p.skipGroup(); err != nil {
					return err
				}
			}
		case "func", "global", "memory":
			assign(kw.Value, p.optID())
		}
		if err := p.skipGroup(); err != nil {
			return err
		}
	}
}

// parseType parses (type $id? (func sig)) after its keyword.
func (p *Parser) parseType() error {
	id := p.optID()
	if err := p.enter("func"); err != nil {
		return err
	}
	ft, err := p.signature(nil)
	if err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	if id != "" {
		if _, dup := p.types[id]; dup {
			return p.errorf("duplicate type %s", id)
		}
		p.types[id] = uint32(len(p.mod.Types))
	}
	p.mod.Types = append(p.mod.Types, ft)
	return nil
}

// signature parses (param ...)* (result ...)*. Named params are added to sc.
func (p *Parser) signature(sc *scope) (ast.FuncType, error) {
	var ft ast.FuncType
	for p.open("param") {
		p.pos += 2
		if t := p.peek(); t != nil && t.Type == token.ID {
			p.next()
			vt, err := p.valType()
			if err != nil {
				return ft, err
			}
			if err := p.close(); err != nil {
				return ft, err
			}
			if sc != nil {
				if err := sc.define(t.Value); err != nil {
					return ft, p.errorf("%v", err)
				}
			}
			ft.Params = append(ft.Params, vt)
			continue
		}
		vts, err := p.valTypes()
		if err != nil {
			return ft, err
		}
		if sc != nil {
			sc.n += uint32(len(vts))
		}
		ft.Params = append(ft.Params, vts...)
	}
	for p.open("result") {
		p.pos += 2
		vts, err := p.valTypes()
		if err != nil {
			return ft, err
		}
		ft.Results = append(ft.Results, vts...)
	}
	return ft, nil
}

// typeUse parses an optional (type x) followed by an inline signature. When
// both are present they must agree.
func (p *Parser) typeUse(sc *scope) (uint32, error) {
	idx, explicit := uint32(0), false
	if p.open("type") {
		p.pos += 2
		var err error
		if idx, err = p.index(p.types, "type"); err != nil {
			return 0, err
		}
		if err := p.close(); err != nil {
			return 0, err
		}
		if int(idx) >= len(p.mod.Types) {
			return 0, p.errorf("type index %d out of range", idx)
		}
		explicit = true
	}

	ft, err := p.signature(sc)
	if err != nil {
		return 0, err
	}
	if !explicit {
		return p.typeIndex(ft), nil
	}

	declared := p.mod.Types[idx]
	if len(ft.Params)+len(ft.Results) > 0 && !ft.Equal(declared) {
		return 0, p.errorf("inline signature does not match type %d", idx)
	}
	if sc != nil && sc.n < uint32(len(declared.Params)) {
		sc.n = uint32(len(declared.Params))
	}
	return idx, nil
}

func (s *scope) define(name string) error {
	if _, dup := s.locals[name]; dup {
		return fmt.Errorf("duplicate local %s", name)
	}
	s.locals[name] = s.n
	s.n++
	return nil
}

// importHead parses the inline (import "m" "n") abbreviation if present.
func (p *Parser) importHead() (mod, name string, ok bool, err error) {
	if !p.open("import") {
		return "", "", false, nil
	}
	if p.defined {
		return "", "", false, p.errorf("import after definition")
	}
	p.pos += 2
	if mod, err = p.name(); err != nil {
		return
	}
	if name, err = p.name(); err != nil {
		return
	}
	return mod, name, true, p.close()
}

// exportNames parses inline (export "n") abbreviations.
func (p *Parser) exportNames() ([]string, error) {
	var names []string
	for p.open("export") {
		p.pos += 2
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		if err := p.close(); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

func (p *Parser) export(names []string, kind byte, idx uint32) {
	for _, n := range names {
		p.mod.Exports = append(p.mod.Exports, ast.Export{Name: n, Kind: kind, Idx: idx})
	}
}

// parseImport parses (import "m" "n" desc) after its keyword.
func (p *Parser) parseImport() error {
	if p.defined {
		return p.errorf("import after definition")
	}
	mod, err := p.name()
	if err != nil {
		return err
	}
	name, err := p.name()
	if err != nil {
		return err
	}
	imp := ast.Import{Module: mod, Name: name}

	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Keyword)
	if err != nil {
		return err
	}
	p.optID()

	switch kind.Value {
	case "func":
		imp.Kind = ast.KindFunc
		if imp.TypeIdx, err = p.typeUse(nil); err != nil {
			return err
		}
		p.nfuncs++
	case "memory":
		imp.Kind = ast.KindMemory
		if imp.Memory, err = p.limits(); err != nil {
			return err
		}
		p.nmems++
	case "global":
		imp.Kind = ast.KindGlobal
		if imp.Global, err = p.globalType(); err != nil {
			return err
		}
		p.nglobals++
	default:
		return p.errorf("unsupported import kind %s", kind.Value)
	}
	if err := p.close(); err != nil {
		return err
	}
	p.mod.Imports = append(p.mod.Imports, imp)
	return p.close()
}

// parseFunc parses a function definition or inline import after its keyword.
func (p *Parser) parseFunc() error {
	p.optID()
	exports, err := p.exportNames()
	if err != nil {
		return err
	}
	idx := p.nfuncs

	mod, name, imported, err := p.importHead()
	if err != nil {
		return err
	}
	if imported {
		typeIdx, err := p.typeUse(nil)
		if err != nil {
			return err
		}
		p.mod.Imports = append(p.mod.Imports, ast.Import{Module: mod, Name: name, Kind: ast.KindFunc, TypeIdx: typeIdx})
		p.nfuncs++
		p.export(exports, ast.KindFunc, idx)
		return p.close()
	}

	p.defined = true
	sc := &scope{locals: make(map[string]uint32)}
	typeIdx, err := p.typeUse(sc)
	if err != nil {
		return err
	}

	var body ast.FuncBody
	for p.open("local") {
		p.pos += 2
		if t := p.peek(); t != nil && t.Type == token.ID {
			p.next()
			vt, err := p.valType()
			if err != nil {
				return err
			}
			if err := p.close(); err != nil {
				return err
			}
			if err := sc.define(t.Value); err != nil {
				return p.errorf("%v", err)
			}
			body.Locals = append(body.Locals, vt)
			continue
		}
		vts, err := p.valTypes()
		if err != nil {
			return err
		}
		sc.n += uint32(len(vts))
		body.Locals = append(body.Locals, vts...)
	}

	p.labels = p.labels[:0]
	if body.Code, err = p.instrs(sc); err != nil {
		return err
	}
	body.Code = append(body.Code, ast.Instr{Opcode: ast.OpEnd})
	if err := p.close(); err != nil {
		return err
	}

	p.mod.Funcs = append(p.mod.Funcs, typeIdx)
	p.mod.Code = append(p.mod.Code, body)
	p.nfuncs++
	p.export(exports, ast.KindFunc, idx)
	return nil
}

func (p *Parser) limits() (ast.Limits, error) {
	var lim ast.Limits
	var err error
	if lim.Min, err = p.u32(); err != nil {
		return lim, err
	}
	if t := p.peek(); t != nil && t.Type == token.Number {
		hi, err := p.u32()
		if err != nil {
			return lim, err
		}
		if hi < lim.Min {
			return lim, p.errorf("maximum %d below minimum %d", hi, lim.Min)
		}
		lim.Max = &hi
	}
	return lim, nil
}

func (p *Parser) globalType() (ast.GlobalType, error) {
	if p.open("mut") {
		p.pos += 2
		vt, err := p.valType()
		if err != nil {
			return ast.GlobalType{}, err
		}
		return ast.GlobalType{ValType: vt, Mutable: true}, p.close()
	}
	vt, err := p.valType()
	return ast.GlobalType{ValType: vt}, err
}

// parseMemory parses a memory definition or inline import after its keyword.
func (p *Parser) parseMemory() error {
	p.optID()
	exports, err := p.exportNames()
	if err != nil {
		return err
	}
	idx := p.nmems

	mod, name, imported, err := p.importHead()
	if err != nil {
		return err
	}
	lim, err := p.limits()
	if err != nil {
		return err
	}
	if imported {
		p.mod.Imports = append(p.mod.Imports, ast.Import{Module: mod, Name: name, Kind: ast.KindMemory, Memory: lim})
	} else {
		p.defined = true
		p.mod.Memories = append(p.mod.Memories, lim)
	}
	p.nmems++
	p.export(exports, ast.KindMemory, idx)
	return p.close()
}

// parseGlobal parses a global definition or inline import after its keyword.
func (p *Parser) parseGlobal() error {
	p.optID()
	exports, err := p.exportNames()
	if err != nil {
		return err
	}
	idx := p.nglobals

	mod, name, imported, err := p.importHead()
	if err != nil {
		return err
	}
	gt, err := p.globalType()
	if err != nil {
		return err
	}
	if imported {
		p.mod.Imports = append(p.mod.Imports, ast.Import{Module: mod, Name: name, Kind: ast.KindGlobal, Global: gt})
	} else {
		p.defined = true
		expr, err := p.instrs(nil)
		if err != nil {
			return err
		}
		if len(expr) == 0 {
			return p.errorf("global without initializer")
		}
		p.mod.Globals = append(p.mod.Globals, ast.Global{Type: gt, Init: expr})
	}
	p.nglobals++
	p.export(exports, ast.KindGlobal, idx)
	return p.close()
}

// parseExport parses (export "n" (kind x)) after its keyword.
func (p *Parser) parseExport() error {
	name, err := p.name()
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Keyword)
	if err != nil {
		return err
	}

	var k byte
	var idx uint32
	switch kind.Value {
	case "func":
		k = ast.KindFunc
		idx, err = p.index(p.funcs, "function")
	case "memory":
		k = ast.KindMemory
		idx, err = p.index(p.mems, "memory")
	case "global":
		k = ast.KindGlobal
		idx, err = p.index(p.globals, "global")
	default:
		return p.errorf("unsupported export kind %s", kind.Value)
	}
	if err != nil {
		return err
	}
	if err := p.close(); err != nil {
		return err
	}
	p.export([]string{name}, k, idx)
	return p.close()
}

func (p *Parser) parseStart() error {
	idx, err := p.index(p.funcs, "function")
	if err != nil {
		return err
	}
	p.mod.Start = &idx
	return p.close()
}

// parseData parses an active data segment after its keyword:
// (data $id? (memory x)? (offset expr) "bytes"*), where the offset may also
// be a single folded instruction.
func (p *Parser) parseData() error {
	p.optID()
	var seg ast.DataSegment
	if p.open("memory") {
		p.pos += 2
		var err error
		if seg.MemIdx, err = p.index(p.mems, "memory"); err != nil {
			return err
		}
		if err := p.close(); err != nil {
			return err
		}
	}

	switch {
	case p.open("offset"):
		p.pos += 2
		code, err := p.instrs(nil)
		if err != nil {
			return err
		}
		seg.Offset = code
		if err := p.close(); err != nil {
			return err
		}
	case p.peek() != nil && p.peek().Type == token.LParen:
		p.next()
		code, err := p.folded(nil)
		if err != nil {
			return err
		}
		seg.Offset = code
	default:
		return p.errorf("passive data segments are not supported")
	}

	for {
		t := p.peek()
		if t == nil || t.Type != token.String {
			break
		}
		b, err := p.text()
		if err != nil {
			return err
		}
		seg.Init = append(seg.Init, b...)
	}
	p.mod.Data = append(p.mod.Data, seg)
	return p.close()
}
