package meter

import (
	"bytes"
	"testing"

	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/sample"
)

// firstBody returns the first function body of the code section.
func firstBody(t *testing.T, wasm []byte) []byte {
	t.Helper()
	sections, err := splitSections(wasm[8:])
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}
	code := find(sections, sectionCode)
	if code == nil {
		t.Fatal("no code section")
	}
	r := newReader(code)
	if _, err := r.readU32(); err != nil {
		t.Fatal(err)
	}
	size, err := r.readU32()
	if err != nil {
		t.Fatal(err)
	}
	body, err := r.readBytes(int(size))
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func exports(t *testing.T, wasm []byte) map[string]uint32 {
	t.Helper()
	sections, err := splitSections(wasm[8:])
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}
	r := newReader(find(sections, sectionExport))
	n, _ := r.readU32()
	out := make(map[string]uint32, n)
	for i := uint32(0); i < n; i++ {
		name, _ := r.readName()
		kind, _ := r.readByte()
		idx, _ := r.readU32()
		if kind == 0 {
			out[name] = idx
		}
	}
	return out
}

func TestInstrumentLoop(t *testing.T) {
	out, rep, err := Instrument(sample.Spin())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	if rep.Functions != 1 || rep.ChargePoints != 3 {
		t.Errorf("report = %+v, want 1 function and 3 charge points", rep)
	}
	if rep.FuelFunc != 0 {
		t.Errorf("FuelFunc = %d, want 0", rep.FuelFunc)
	}

	want := []byte{
		0x00,                   // no locals
		0x41, 0x01, 0x10, 0x00, // charge 1
		0x03, 0x40, // loop
		0x41, 0x02, 0x10, 0x00, // charge 2 per iteration
		0x0C, 0x00, 0x0B,
		0x41, 0x01, 0x10, 0x00, // charge 1
		0x0B,
	}
	if got := firstBody(t, out); !bytes.Equal(got, want) {
		t.Errorf("body =\n% x\nwant\n% x", got, want)
	}
	if idx := exports(t, out)["spin"]; idx != 1 {
		t.Errorf("spin export index = %d, want 1", idx)
	}
}

func TestInstrumentKeepsImportIndices(t *testing.T) {
	out, rep, err := Instrument(sample.SleepThenAnswer())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	if rep.FuelFunc != 1 {
		t.Errorf("FuelFunc = %d, want 1 (after host.sleep)", rep.FuelFunc)
	}
	want := []byte{
		0x00,
		0x41, 0x03, 0x10, 0x01, // charge 3
		0x10, 0x00, // call host.sleep, unchanged
		0x41, 0x2A,
		0x0B,
	}
	if got := firstBody(t, out); !bytes.Equal(got, want) {
		t.Errorf("body =\n% x\nwant\n% x", got, want)
	}
	if idx := exports(t, out)["run"]; idx != 2 {
		t.Errorf("run export index = %d, want 2", idx)
	}
}

func TestInstrumentRecursiveCall(t *testing.T) {
	out, rep, err := Instrument(sample.Fib())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	// if, else, end of if, end of function
	if rep.ChargePoints != 4 {
		t.Errorf("ChargePoints = %d, want 4", rep.ChargePoints)
	}
	body := firstBody(t, out)
	// fib was function 0 and calls itself; it is now function 1.
	if bytes.Contains(body, []byte{0x6B, 0x10, 0x00}) {
		t.Error("self call still targets index 0")
	}
	if !bytes.Contains(body, []byte{0x6B, 0x10, 0x01}) {
		t.Error("self call not renumbered to index 1")
	}
}

func TestInstrumentAddsTypeAndImportSections(t *testing.T) {
	out, rep, err := Instrument(sample.Spin())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	sections, err := splitSections(out[8:])
	if err != nil {
		t.Fatalf("output is not well formed: %v", err)
	}
	types := newReader(find(sections, sectionType))
	if n, _ := types.readU32(); n != 2 || rep.FuelType != 1 {
		t.Errorf("type count = %d, fuel type = %d; want 2 and 1", n, rep.FuelType)
	}

	imports := newReader(find(sections, sectionImport))
	if n, _ := imports.readU32(); n != 1 {
		t.Fatalf("import count = %d, want 1", n)
	}
	module, _ := imports.readName()
	name, _ := imports.readName()
	if module != ImportModule || name != ImportName {
		t.Errorf("import = %s.%s, want %s.%s", module, name, ImportModule, ImportName)
	}
}

func TestInstrumentDropsNameSection(t *testing.T) {
	m := &sample.Module{}
	m.Func("f", nil, nil, nil, []byte{0x0B})
	m.Custom("name", []byte{0x01, 0x02})
	m.Custom("producers", []byte{0x00})

	out, _, err := Instrument(m.Encode())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	sections, err := splitSections(out[8:])
	if err != nil {
		t.Fatal(err)
	}
	var customs []string
	for _, s := range sections {
		if s.id == sectionCustom {
			name, _ := newReader(s.payload).readName()
			customs = append(customs, name)
		}
	}
	if len(customs) != 1 || customs[0] != "producers" {
		t.Errorf("custom sections = %v, want [producers]", customs)
	}
}

func TestRewriteElements(t *testing.T) {
	remap := func(i uint32) uint32 { return i + 1 }
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{
			name: "active function indices",
			in:   []byte{0x01, 0x00, 0x41, 0x00, 0x0B, 0x02, 0x00, 0x01},
			want: []byte{0x01, 0x00, 0x41, 0x00, 0x0B, 0x02, 0x01, 0x02},
		},
		{
			name: "passive function indices",
			in:   []byte{0x01, 0x01, 0x00, 0x01, 0x05},
			want: []byte{0x01, 0x01, 0x00, 0x01, 0x06},
		},
		{
			name: "active expressions",
			in:   []byte{0x01, 0x04, 0x41, 0x00, 0x0B, 0x01, 0xD2, 0x00, 0x0B},
			want: []byte{0x01, 0x04, 0x41, 0x00, 0x0B, 0x01, 0xD2, 0x01, 0x0B},
		},
		{
			name: "explicit table with reftype",
			in:   []byte{0x01, 0x06, 0x00, 0x41, 0x00, 0x0B, 0x70, 0x01, 0xD2, 0x03, 0x0B},
			want: []byte{0x01, 0x06, 0x00, 0x41, 0x00, 0x0B, 0x70, 0x01, 0xD2, 0x04, 0x0B},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rewriteElements(tt.in, remap)
			if err != nil {
				t.Fatalf("rewriteElements: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % x, want % x", got, tt.want)
			}
		})
	}
}

func TestCopyInstrImmediates(t *testing.T) {
	remap := func(i uint32) uint32 { return i }
	tests := []struct {
		name string
		in   []byte
	}{
		{"br_table", []byte{0x0E, 0x02, 0x00, 0x01, 0x00}},
		{"i64.const", []byte{0x42, 0x80, 0x80, 0x80, 0x80, 0x10}},
		{"f64.const", []byte{0x44, 1, 2, 3, 4, 5, 6, 7, 8}},
		{"load with multi-memory", []byte{0x28, 0x42, 0x01, 0x04}},
		{"memory.copy", []byte{0xFC, 0x0A, 0x00, 0x00}},
		{"v128.const", append([]byte{0xFD, 0x0C}, make([]byte, 16)...)},
		{"extract lane", []byte{0xFD, 0x15, 0x03}},
		{"select t", []byte{0x1C, 0x01, 0x7F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReader(tt.in[1:])
			var w writer
			if err := copyInstr(tt.in[0], r, &w, remap); err != nil {
				t.Fatalf("copyInstr: %v", err)
			}
			if !r.done() {
				t.Errorf("%d bytes left unread", len(tt.in)-1-r.pos)
			}
			if !bytes.Equal(w.data(), tt.in) {
				t.Errorf("copied % x, want % x", w.data(), tt.in)
			}
		})
	}
}

func TestInstrumentErrors(t *testing.T) {
	atomic := &sample.Module{}
	atomic.Func("f", nil, nil, nil, []byte{0xFE, 0x03, 0x00, 0x0B})

	metered, _, err := Instrument(sample.Spin())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		wasm []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x00, 0x01, 0x00, 0x00, 0x00}},
		{"component binary", []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}},
		{"truncated section", []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, 0x01, 0x10, 0x01}},
		{"threads", atomic.Encode()},
		{"already metered", metered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Instrument(tt.wasm)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.ErrCompile) {
				t.Errorf("error %v is not a compile error", err)
			}
		})
	}
}
