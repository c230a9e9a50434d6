// Package encoder writes an ast.Module as a binary core module.
package encoder

import (
	"github.com/wippyai/wasm-fiber/wat/internal/ast"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

// Encode returns the binary module. Empty sections are omitted.
func Encode(m *ast.Module) []byte {
	buf := &Buffer{}
	buf.WriteBytes(header)

	section(buf, ast.SectionType, len(m.Types), func(sec *Buffer) {
		for _, ft := range m.Types {
			sec.AppendByte(0x60)
			writeTypes(sec, ft.Params)
			writeTypes(sec, ft.Results)
		}
	})
	section(buf, ast.SectionImport, len(m.Imports), func(sec *Buffer) {
		for _, imp := range m.Imports {
			sec.WriteString(imp.Module)
			sec.WriteString(imp.Name)
			sec.AppendByte(imp.Kind)
			switch imp.Kind {
			case ast.KindFunc:
				sec.WriteU32(imp.TypeIdx)
			case ast.KindMemory:
				sec.WriteLimits(imp.Memory.Min, imp.Memory.Max)
			case ast.KindGlobal:
				writeGlobalType(sec, imp.Global)
			}
		}
	})
	section(buf, ast.SectionFunc, len(m.Funcs), func(sec *Buffer) {
		for _, idx := range m.Funcs {
			sec.WriteU32(idx)
		}
	})
	section(buf, ast.SectionMemory, len(m.Memories), func(sec *Buffer) {
		for _, lim := range m.Memories {
			sec.WriteLimits(lim.Min, lim.Max)
		}
	})
	section(buf, ast.SectionGlobal, len(m.Globals), func(sec *Buffer) {
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			writeExpr(sec, g.Init)
		}
	})
	section(buf, ast.SectionExport, len(m.Exports), func(sec *Buffer) {
		for _, e := range m.Exports {
			sec.WriteString(e.Name)
			sec.AppendByte(e.Kind)
			sec.WriteU32(e.Idx)
		}
	})
	if m.Start != nil {
		sec := &Buffer{}
		sec.WriteU32(*m.Start)
		writeSection(buf, ast.SectionStart, sec)
	}
	section(buf, ast.SectionCode, len(m.Code), func(sec *Buffer) {
		for _, body := range m.Code {
			fn := &Buffer{}
			writeLocals(fn, body.Locals)
			for _, ins := range body.Code {
				EncodeInstr(fn, ins)
			}
			sec.WriteU32(uint32(len(fn.Bytes)))
			sec.WriteBytes(fn.Bytes)
		}
	})
	section(buf, ast.SectionData, len(m.Data), func(sec *Buffer) {
		for _, d := range m.Data {
			if d.MemIdx == 0 {
				sec.AppendByte(0x00)
			} else {
				sec.AppendByte(0x02)
				sec.WriteU32(d.MemIdx)
			}
			writeExpr(sec, d.Offset)
			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		}
	})

	return buf.Bytes
}

// section writes a vector section of n entries when n is positive.
func section(buf *Buffer, id byte, n int, entries func(*Buffer)) {
	if n == 0 {
		return
	}
	sec := &Buffer{}
	sec.WriteU32(uint32(n))
	entries(sec)
	writeSection(buf, id, sec)
}

func writeSection(buf *Buffer, id byte, content *Buffer) {
	buf.AppendByte(id)
	buf.WriteU32(uint32(len(content.Bytes)))
	buf.WriteBytes(content.Bytes)
}

func writeTypes(buf *Buffer, vs []ast.ValType) {
	buf.WriteU32(uint32(len(vs)))
	for _, v := range vs {
		buf.AppendByte(byte(v))
	}
}

func writeGlobalType(buf *Buffer, gt ast.GlobalType) {
	buf.AppendByte(byte(gt.ValType))
	if gt.Mutable {
		buf.AppendByte(0x01)
	} else {
		buf.AppendByte(0x00)
	}
}

// writeExpr writes a constant expression and its end.
func writeExpr(buf *Buffer, code []ast.Instr) {
	for _, ins := range code {
		EncodeInstr(buf, ins)
	}
	buf.AppendByte(ast.OpEnd)
}

// writeLocals groups consecutive locals of the same type.
func writeLocals(buf *Buffer, locals []ast.ValType) {
	type group struct {
		n  uint32
		vt ast.ValType
	}
	var groups []group
	for _, vt := range locals {
		if len(groups) > 0 && groups[len(groups)-1].vt == vt {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, vt: vt})
	}
	buf.WriteU32(uint32(len(groups)))
	for _, g := range groups {
		buf.WriteU32(g.n)
		buf.AppendByte(byte(g.vt))
	}
}
