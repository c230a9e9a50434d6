package sample

import (
	"encoding/binary"
	"math"
)

// Value types
const (
	I32 byte = 0x7F
	I64 byte = 0x7E
	F32 byte = 0x7D
	F64 byte = 0x7C
)

const (
	sectionCustom   byte = 0
	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionExport   byte = 7
	sectionCode     byte = 10

	funcTypeMarker byte = 0x60
	kindFunc       byte = 0x00
)

// Buffer accumulates encoded bytes.
type Buffer struct {
	Bytes []byte
}

func (b *Buffer) AppendByte(v byte) {
	b.Bytes = append(b.Bytes, v)
}

func (b *Buffer) WriteBytes(v ...byte) {
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
			break
		}
	}
}

// WriteI32 writes signed LEB128 encoding.
func (b *Buffer) WriteI32(v int32) {
	for {
		byt := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && byt&0x40 == 0) || (v == -1 && byt&0x40 != 0) {
			b.AppendByte(byt)
			break
		}
		b.AppendByte(byt | 0x80)
	}
}

func (b *Buffer) WriteF64(v float64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	b.WriteBytes(buf...)
}

func (b *Buffer) WriteString(s string) {
	b.WriteU32(uint32(len(s)))
	b.WriteBytes([]byte(s)...)
}

func writeSection(buf *Buffer, id byte, content *Buffer) {
	buf.AppendByte(id)
	buf.WriteU32(uint32(len(content.Bytes)))
	buf.WriteBytes(content.Bytes...)
}

type funcType struct {
	params  []byte
	results []byte
}

type importFunc struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []byte
	body    []byte
}

type export struct {
	name string
	idx  uint32
}

type custom struct {
	name    string
	payload []byte
}

// Module builds a minimal core wasm module: function types, function
// imports, functions, one optional memory and function exports.
type Module struct {
	types   []funcType
	imports []importFunc
	funcs   []function
	exports []export
	customs []custom
	memory  *uint32
}

func (m *Module) typeIndex(params, results []byte) uint32 {
	for i, t := range m.types {
		if string(t.params) == string(params) && string(t.results) == string(results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Import declares a function import and returns its function index.
// All imports must be declared before the first Func.
func (m *Module) Import(module, name string, params, results []byte) uint32 {
	if len(m.funcs) > 0 {
		panic("sample: imports must precede functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typeIdx: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// NextFunc returns the index the next Func call will receive.
func (m *Module) NextFunc() uint32 {
	return uint32(len(m.imports) + len(m.funcs))
}

// Func adds a function whose body ends with the final `end`. Locals are
// one value type per local. A non-empty export name exports it.
func (m *Module) Func(exportName string, params, results, locals []byte, body []byte) uint32 {
	idx := m.NextFunc()
	m.funcs = append(m.funcs, function{typeIdx: m.typeIndex(params, results), locals: locals, body: body})
	if exportName != "" {
		m.exports = append(m.exports, export{name: exportName, idx: idx})
	}
	return idx
}

// Memory declares memory 0 with the given minimum page count.
func (m *Module) Memory(minPages uint32) {
	m.memory = &minPages
}

// Custom appends a custom section.
func (m *Module) Custom(name string, payload []byte) {
	m.customs = append(m.customs, custom{name: name, payload: payload})
}

// Encode returns the binary module.
func (m *Module) Encode() []byte {
	buf := &Buffer{}
	buf.WriteBytes(0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00)

	if len(m.types) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.types)))
		for _, ft := range m.types {
			sec.AppendByte(funcTypeMarker)
			sec.WriteU32(uint32(len(ft.params)))
			sec.WriteBytes(ft.params...)
			sec.WriteU32(uint32(len(ft.results)))
			sec.WriteBytes(ft.results...)
		}
		writeSection(buf, sectionType, sec)
	}

	if len(m.imports) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.WriteString(imp.module)
			sec.WriteString(imp.name)
			sec.AppendByte(kindFunc)
			sec.WriteU32(imp.typeIdx)
		}
		writeSection(buf, sectionImport, sec)
	}

	if len(m.funcs) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.WriteU32(f.typeIdx)
		}
		writeSection(buf, sectionFunction, sec)
	}

	if m.memory != nil {
		sec := &Buffer{}
		sec.WriteU32(1)
		sec.AppendByte(0x00)
		sec.WriteU32(*m.memory)
		writeSection(buf, sectionMemory, sec)
	}

	if len(m.exports) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.exports)))
		for _, e := range m.exports {
			sec.WriteString(e.name)
			sec.AppendByte(kindFunc)
			sec.WriteU32(e.idx)
		}
		writeSection(buf, sectionExport, sec)
	}

	if len(m.funcs) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := &Buffer{}
			body.WriteU32(uint32(len(f.locals)))
			for _, l := range f.locals {
				body.WriteU32(1)
				body.AppendByte(l)
			}
			body.WriteBytes(f.body...)
			sec.WriteU32(uint32(len(body.Bytes)))
			sec.WriteBytes(body.Bytes...)
		}
		writeSection(buf, sectionCode, sec)
	}

	for _, c := range m.customs {
		sec := &Buffer{}
		sec.WriteString(c.name)
		sec.WriteBytes(c.payload...)
		writeSection(buf, sectionCustom, sec)
	}

	return buf.Bytes
}
