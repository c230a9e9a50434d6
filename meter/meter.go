package meter

import (
	"bytes"
	"fmt"

	"github.com/wippyai/wasm-fiber/errors"
)

// The injected import every charge point calls with its cost.
const (
	ImportModule = "fiber"
	ImportName   = "consume_fuel"
)

// Section IDs
const (
	sectionCustom    byte = 0
	sectionType      byte = 1
	sectionImport    byte = 2
	sectionFunction  byte = 3
	sectionTable     byte = 4
	sectionMemory    byte = 5
	sectionGlobal    byte = 6
	sectionExport    byte = 7
	sectionStart     byte = 8
	sectionElement   byte = 9
	sectionCode      byte = 10
	sectionData      byte = 11
	sectionDataCount byte = 12
	sectionTag       byte = 13
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6D}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// Report describes what Instrument changed.
type Report struct {
	Functions    int    // defined function bodies instrumented
	ChargePoints int    // fuel charges inserted
	FuelFunc     uint32 // function index of the injected import
	FuelType     uint32 // type index of (i32) -> ()
}

type section struct {
	id      byte
	payload []byte
}

// Instrument rewrites a core wasm binary so that executing it reports
// consumed work through the fiber.consume_fuel import. One unit is one
// instruction, charged at the start of each straight-line segment.
func Instrument(wasm []byte) ([]byte, *Report, error) {
	out, rep, err := instrument(wasm)
	if err != nil {
		return nil, nil, errors.CompileFailed("instrument fuel metering", err)
	}
	return out, rep, nil
}

func instrument(wasm []byte) ([]byte, *Report, error) {
	if len(wasm) < 8 || !bytes.Equal(wasm[:4], magic) {
		return nil, nil, fmt.Errorf("invalid magic number")
	}
	if !bytes.Equal(wasm[4:8], version) {
		return nil, nil, errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("binary version %x", wasm[4:8]))
	}

	sections, err := splitSections(wasm[8:])
	if err != nil {
		return nil, nil, err
	}

	rep := &Report{}

	typeSec, fuelType, err := addFuelType(find(sections, sectionType))
	if err != nil {
		return nil, nil, err
	}
	rep.FuelType = fuelType

	importSec, funcImports, err := addFuelImport(find(sections, sectionImport), fuelType)
	if err != nil {
		return nil, nil, err
	}
	rep.FuelFunc = funcImports

	remap := func(idx uint32) uint32 {
		if idx >= funcImports {
			return idx + 1
		}
		return idx
	}

	var result []section
	for _, s := range sections {
		var payload []byte
		switch s.id {
		case sectionCustom:
			name, _ := newReader(s.payload).readName()
			if name == "name" {
				continue
			}
			payload = s.payload
		case sectionType:
			payload = typeSec
		case sectionImport:
			payload = importSec
		case sectionExport:
			payload, err = rewriteExports(s.payload, remap)
		case sectionStart:
			payload, err = rewriteStart(s.payload, remap)
		case sectionElement:
			payload, err = rewriteElements(s.payload, remap)
		case sectionGlobal:
			payload, err = rewriteGlobals(s.payload, remap)
		case sectionCode:
			payload, err = rewriteCode(s.payload, funcImports, remap, rep)
		default:
			payload = s.payload
		}
		if err != nil {
			return nil, nil, err
		}
		result = append(result, section{id: s.id, payload: payload})
	}

	if find(sections, sectionType) == nil {
		result = insertSection(result, section{id: sectionType, payload: typeSec})
	}
	if find(sections, sectionImport) == nil {
		result = insertSection(result, section{id: sectionImport, payload: importSec})
	}

	var w writer
	w.write(magic)
	w.write(version)
	for _, s := range result {
		w.section(s.id, s.payload)
	}
	return w.data(), rep, nil
}

func splitSections(data []byte) ([]section, error) {
	r := newReader(data)
	var sections []section
	lastOrder := 0
	for !r.done() {
		id, err := r.readByte()
		if err != nil {
			return nil, r.parseError("section id", err)
		}
		if id != sectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, r.parseError("section id", fmt.Errorf("unknown section %d", id))
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastOrder = order
		}
		size, err := r.readU32()
		if err != nil {
			return nil, r.parseError("section size", err)
		}
		payload, err := r.readBytes(int(size))
		if err != nil {
			return nil, r.parseError("section data", err)
		}
		sections = append(sections, section{id: id, payload: payload})
	}
	return sections, nil
}

// sectionOrder returns the canonical ordering for a section ID.
// WASM spec requires sections in specific order, which differs from section IDs.
func sectionOrder(id byte) int {
	switch id {
	case sectionType:
		return 1
	case sectionImport:
		return 2
	case sectionFunction:
		return 3
	case sectionTable:
		return 4
	case sectionMemory:
		return 5
	case sectionTag:
		return 6
	case sectionGlobal:
		return 7
	case sectionExport:
		return 8
	case sectionStart:
		return 9
	case sectionElement:
		return 10
	case sectionDataCount:
		return 11
	case sectionCode:
		return 12
	case sectionData:
		return 13
	default:
		return 0
	}
}

func find(sections []section, id byte) []byte {
	for _, s := range sections {
		if s.id == id {
			if s.payload == nil {
				return []byte{}
			}
			return s.payload
		}
	}
	return nil
}

// insertSection places s before the first known section that must follow it.
func insertSection(sections []section, s section) []section {
	order := sectionOrder(s.id)
	for i, existing := range sections {
		if existing.id != sectionCustom && sectionOrder(existing.id) > order {
			sections = append(sections[:i], append([]section{s}, sections[i:]...)...)
			return sections
		}
	}
	return append(sections, s)
}

// addFuelType appends (i32) -> () to the type section.
func addFuelType(payload []byte) ([]byte, uint32, error) {
	var count uint32
	rest := []byte{}
	if payload != nil {
		r := newReader(payload)
		n, err := r.readU32()
		if err != nil {
			return nil, 0, r.parseError("type section", err)
		}
		start := r.pos
		for i := uint32(0); i < n; i++ {
			form, err := r.readByte()
			if err != nil {
				return nil, 0, r.parseError("type section", err)
			}
			if form != 0x60 {
				return nil, 0, errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("type form 0x%02x", form))
			}
			for vec := 0; vec < 2; vec++ {
				m, err := r.readU32()
				if err != nil {
					return nil, 0, r.parseError("type section", err)
				}
				for j := uint32(0); j < m; j++ {
					if err := skipValType(r); err != nil {
						return nil, 0, r.parseError("type section", err)
					}
				}
			}
		}
		count = n
		rest = payload[start:r.pos]
	}

	var w writer
	w.u32(count + 1)
	w.write(rest)
	w.write([]byte{0x60, 0x01, 0x7F, 0x00})
	return w.data(), count, nil
}

// addFuelImport appends the fuel import and returns the number of function
// imports that precede it, which is also its function index.
func addFuelImport(payload []byte, fuelType uint32) ([]byte, uint32, error) {
	var count, funcs uint32
	rest := []byte{}
	if payload != nil {
		r := newReader(payload)
		n, err := r.readU32()
		if err != nil {
			return nil, 0, r.parseError("import section", err)
		}
		start := r.pos
		for i := uint32(0); i < n; i++ {
			module, err := r.readName()
			if err != nil {
				return nil, 0, r.parseError("import module", err)
			}
			name, err := r.readName()
			if err != nil {
				return nil, 0, r.parseError("import name", err)
			}
			if module == ImportModule && name == ImportName {
				return nil, 0, fmt.Errorf("module already imports %s.%s", ImportModule, ImportName)
			}
			if err := skipImportDesc(r, &funcs); err != nil {
				return nil, 0, r.parseError("import desc", err)
			}
		}
		count = n
		rest = payload[start:r.pos]
	}

	var w writer
	w.u32(count + 1)
	w.write(rest)
	w.name(ImportModule)
	w.name(ImportName)
	w.u8(0x00)
	w.u32(fuelType)
	return w.data(), funcs, nil
}

func skipImportDesc(r *reader, funcs *uint32) error {
	kind, err := r.readByte()
	if err != nil {
		return err
	}
	switch kind {
	case 0x00: // func
		*funcs++
		_, err = r.readU32()
		return err
	case 0x01: // table
		if err := skipValType(r); err != nil {
			return err
		}
		return skipLimits(r)
	case 0x02: // memory
		return skipLimits(r)
	case 0x03: // global
		if err := skipValType(r); err != nil {
			return err
		}
		_, err = r.readByte()
		return err
	case 0x04: // tag
		if _, err := r.readByte(); err != nil {
			return err
		}
		_, err = r.readU32()
		return err
	}
	return fmt.Errorf("unknown import kind 0x%02x", kind)
}

func skipLimits(r *reader) error {
	flags, err := r.readByte()
	if err != nil {
		return err
	}
	if _, _, err := r.readLEB(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		_, _, err = r.readLEB()
	}
	return err
}

func rewriteExports(payload []byte, remap remapFunc) ([]byte, error) {
	r := newReader(payload)
	n, err := r.readU32()
	if err != nil {
		return nil, r.parseError("export section", err)
	}
	var w writer
	w.u32(n)
	for i := uint32(0); i < n; i++ {
		name, err := r.readName()
		if err != nil {
			return nil, r.parseError("export name", err)
		}
		kind, err := r.readByte()
		if err != nil {
			return nil, r.parseError("export kind", err)
		}
		idx, err := r.readU32()
		if err != nil {
			return nil, r.parseError("export index", err)
		}
		if kind == 0x00 {
			idx = remap(idx)
		}
		w.name(name)
		w.u8(kind)
		w.u32(idx)
	}
	return w.data(), nil
}

func rewriteStart(payload []byte, remap remapFunc) ([]byte, error) {
	r := newReader(payload)
	idx, err := r.readU32()
	if err != nil {
		return nil, r.parseError("start section", err)
	}
	var w writer
	w.u32(remap(idx))
	return w.data(), nil
}

func rewriteGlobals(payload []byte, remap remapFunc) ([]byte, error) {
	r := newReader(payload)
	n, err := r.readU32()
	if err != nil {
		return nil, r.parseError("global section", err)
	}
	var w writer
	w.u32(n)
	for i := uint32(0); i < n; i++ {
		if err := copyValType(r, &w); err != nil {
			return nil, r.parseError("global type", err)
		}
		if err := copyFixed(r, &w, 1); err != nil { // mutability
			return nil, r.parseError("global type", err)
		}
		if err := copyExpr(r, &w, remap); err != nil {
			return nil, r.parseError("global init", err)
		}
	}
	return w.data(), nil
}

// rewriteElements handles all eight element segment encodings.
// Bit 0: passive or declarative, bit 1: explicit table index (or
// declarative), bit 2: expressions instead of function indices.
func rewriteElements(payload []byte, remap remapFunc) ([]byte, error) {
	r := newReader(payload)
	n, err := r.readU32()
	if err != nil {
		return nil, r.parseError("element section", err)
	}
	var w writer
	w.u32(n)
	for i := uint32(0); i < n; i++ {
		flags, err := r.readU32()
		if err != nil {
			return nil, r.parseError("element flags", err)
		}
		if flags > 7 {
			return nil, r.parseError("element flags", fmt.Errorf("invalid flags %d", flags))
		}
		w.u32(flags)

		if flags&0x01 == 0 {
			if flags&0x02 != 0 {
				if err := copyLEB(r, &w); err != nil {
					return nil, r.parseError("element table", err)
				}
			}
			if err := copyExpr(r, &w, remap); err != nil {
				return nil, r.parseError("element offset", err)
			}
		}
		if flags&0x03 != 0 {
			if flags&0x04 == 0 {
				err = copyFixed(r, &w, 1) // elemkind
			} else {
				err = copyValType(r, &w)
			}
			if err != nil {
				return nil, r.parseError("element kind", err)
			}
		}

		m, err := r.readU32()
		if err != nil {
			return nil, r.parseError("element count", err)
		}
		w.u32(m)
		for j := uint32(0); j < m; j++ {
			if flags&0x04 == 0 {
				idx, err := r.readU32()
				if err != nil {
					return nil, r.parseError("element index", err)
				}
				w.u32(remap(idx))
				continue
			}
			if err := copyExpr(r, &w, remap); err != nil {
				return nil, r.parseError("element expr", err)
			}
		}
	}
	return w.data(), nil
}

func rewriteCode(payload []byte, fuelIdx uint32, remap remapFunc, rep *Report) ([]byte, error) {
	r := newReader(payload)
	n, err := r.readU32()
	if err != nil {
		return nil, r.parseError("code section", err)
	}
	var w writer
	w.u32(n)
	for i := uint32(0); i < n; i++ {
		size, err := r.readU32()
		if err != nil {
			return nil, r.parseError("code size", err)
		}
		body, err := r.readBytes(int(size))
		if err != nil {
			return nil, r.parseError("code body", err)
		}
		rewritten, charges, err := instrumentBody(body, fuelIdx, remap)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		w.u32(uint32(len(rewritten)))
		w.write(rewritten)
		rep.Functions++
		rep.ChargePoints += charges
	}
	return w.data(), nil
}
