package encoder

import (
	"github.com/wippyai/wasm-fiber/wat/internal/ast"
)

// EncodeInstr writes the opcode and its immediate. The immediate's Go type
// selects the encoding.
func EncodeInstr(buf *Buffer, ins ast.Instr) {
	buf.AppendByte(ins.Opcode)

	switch imm := ins.Imm.(type) {
	case nil:
	case uint32:
		buf.WriteU32(imm)
	case int32:
		buf.WriteI64(int64(imm))
	case int64:
		buf.WriteI64(imm)
	case float32:
		buf.WriteF32(imm)
	case float64:
		buf.WriteF64(imm)
	case byte:
		buf.AppendByte(imm)
	case ast.BlockType:
		if imm.TypeIdx >= 0 {
			buf.WriteI64(int64(imm.TypeIdx))
		} else {
			buf.AppendByte(imm.Simple)
		}
	case ast.Memarg:
		buf.WriteU32(imm.Align)
		buf.WriteU32(imm.Offset)
	case []uint32:
		// br_table: the last label is the default.
		buf.WriteU32(uint32(len(imm) - 1))
		for _, label := range imm {
			buf.WriteU32(label)
		}
	case []ast.ValType:
		writeTypes(buf, imm)
	}
}
