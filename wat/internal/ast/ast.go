// Package ast holds the module shape the parser produces and the encoder
// writes, limited to core functions, memories, globals and data.
package ast

type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

// BlockEmpty is the block type of a block without results.
const BlockEmpty byte = 0x40

const (
	KindFunc   byte = 0
	KindMemory byte = 2
	KindGlobal byte = 3
)

const (
	SectionType   byte = 1
	SectionImport byte = 2
	SectionFunc   byte = 3
	SectionMemory byte = 5
	SectionGlobal byte = 6
	SectionExport byte = 7
	SectionStart  byte = 8
	SectionCode   byte = 10
	SectionData   byte = 11
)

const (
	OpUnreachable byte = 0x00
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpBrTable     byte = 0x0E
	OpCall        byte = 0x10
	OpSelect      byte = 0x1B
	OpSelectTyped byte = 0x1C
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpF64Const    byte = 0x44
	OpPrefixMisc  byte = 0xFC
)

type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index per defined function
	Memories []Limits
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Code     []FuncBody
	Data     []DataSegment
}

type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) Equal(other FuncType) bool {
	return string(valBytes(ft.Params)) == string(valBytes(other.Params)) &&
		string(valBytes(ft.Results)) == string(valBytes(other.Results))
}

func valBytes(vs []ValType) []byte {
	b := make([]byte, len(vs))
	for i, v := range vs {
		b[i] = byte(v)
	}
	return b
}

// Import is a function, memory or global import. Exactly one descriptor
// matching Kind is set.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32
	Memory  Limits
	Global  GlobalType
}

type Limits struct {
	Max *uint32
	Min uint32
}

type GlobalType struct {
	ValType ValType
	Mutable bool
}

type Global struct {
	Init []Instr
	Type GlobalType
}

type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

type FuncBody struct {
	Locals []ValType
	Code   []Instr
}

type DataSegment struct {
	Offset []Instr
	Init   []byte
	MemIdx uint32
}

// Instr is one instruction. Imm depends on the opcode: uint32 for indices
// and labels, int32/int64/float32/float64 for constants, Memarg, BlockType,
// []uint32 for br_table and []ValType for typed select.
type Instr struct {
	Imm    any
	Opcode byte
}

type Memarg struct {
	Align  uint32
	Offset uint32
}

// BlockType is either Simple (empty or one result) or a type index.
type BlockType struct {
	TypeIdx int32
	Simple  byte
}
