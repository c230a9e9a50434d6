package sample

import (
	_ "embed"
	"sort"
)

// Host imports the sleep workloads call.
const (
	HostModule = "host"
)

// Fib exports fib(n i32) i32 with fib(0) = fib(1) = 1, computed recursively.
func Fib() []byte {
	m := &Module{}
	self := m.NextFunc()
	b := &Buffer{}
	b.WriteBytes(0x20, 0x00) // local.get 0
	b.WriteBytes(0x41, 0x02) // i32.const 2
	b.WriteBytes(0x48)       // i32.lt_s
	b.WriteBytes(0x04, I32)  // if (result i32)
	b.WriteBytes(0x41, 0x01) // i32.const 1
	b.WriteBytes(0x05)       // else
	b.WriteBytes(0x20, 0x00, 0x41, 0x02, 0x6B)
	b.AppendByte(0x10) // call fib(n-2)
	b.WriteU32(self)
	b.WriteBytes(0x20, 0x00, 0x41, 0x01, 0x6B)
	b.AppendByte(0x10) // call fib(n-1)
	b.WriteU32(self)
	b.WriteBytes(0x6A) // i32.add
	b.WriteBytes(0x0B) // end if
	b.WriteBytes(0x0B)
	m.Func("fib", []byte{I32}, []byte{I32}, nil, b.Bytes)
	return m.Encode()
}

//go:embed fib.wat
var fibText []byte

// FibText is the text form of fib as a C compiler lowers it, with a shadow
// stack in linear memory. It compiles through the text front end.
func FibText() []byte {
	return append([]byte(nil), fibText...)
}

// NativeFib is the Go equivalent of the fib export.
func NativeFib(n int32) int32 {
	if n < 2 {
		return 1
	}
	return NativeFib(n-2) + NativeFib(n-1)
}

// Spin exports spin() that never returns.
func Spin() []byte {
	m := &Module{}
	m.Func("spin", nil, nil, nil, []byte{
		0x03, 0x40, // loop
		0x0C, 0x00, // br 0
		0x0B, // end loop
		0x0B,
	})
	return m.Encode()
}

// Count exports count(n i32) i32, which loops n times and returns n.
func Count() []byte {
	m := &Module{}
	m.Func("count", []byte{I32}, []byte{I32}, []byte{I32}, countLoop(nil))
	return m.Encode()
}

// countLoop emits a loop over local 1 from 0 to local 0, running step in
// each iteration, followed by local.get 1 and the function end.
func countLoop(step []byte) []byte {
	b := &Buffer{}
	b.WriteBytes(0x02, 0x40) // block
	b.WriteBytes(0x03, 0x40) // loop
	b.WriteBytes(0x20, 0x01, 0x20, 0x00, 0x4F) // i >= n
	b.WriteBytes(0x0D, 0x01)                   // br_if 1
	b.WriteBytes(step...)
	b.WriteBytes(0x20, 0x01, 0x41, 0x01, 0x6A, 0x21, 0x01) // i++
	b.WriteBytes(0x0C, 0x00)                               // br 0
	b.WriteBytes(0x0B, 0x0B)
	b.WriteBytes(0x20, 0x01)
	b.WriteBytes(0x0B)
	return b.Bytes
}

// SleepThenAnswer exports run() i32: calls host.sleep once and returns 42.
func SleepThenAnswer() []byte {
	m := &Module{}
	sleep := m.Import(HostModule, "sleep", nil, nil)
	b := &Buffer{}
	b.AppendByte(0x10)
	b.WriteU32(sleep)
	b.WriteBytes(0x41, 0x2A, 0x0B) // i32.const 42
	m.Func("run", nil, []byte{I32}, nil, b.Bytes)
	return m.Encode()
}

// SleepTwice exports run() i32: two host.sleep call sites, then 42.
func SleepTwice() []byte {
	m := &Module{}
	sleep := m.Import(HostModule, "sleep", nil, nil)
	b := &Buffer{}
	b.AppendByte(0x10)
	b.WriteU32(sleep)
	b.AppendByte(0x10)
	b.WriteU32(sleep)
	b.WriteBytes(0x41, 0x2A, 0x0B)
	m.Func("run", nil, []byte{I32}, nil, b.Bytes)
	return m.Encode()
}

// SleepMillis exports run(ms i32) i32: calls host.sleep_ms(ms) and returns ms.
func SleepMillis() []byte {
	m := &Module{}
	sleep := m.Import(HostModule, "sleep_ms", []byte{I32}, nil)
	b := &Buffer{}
	b.WriteBytes(0x20, 0x00)
	b.AppendByte(0x10)
	b.WriteU32(sleep)
	b.WriteBytes(0x20, 0x00, 0x0B)
	m.Func("run", []byte{I32}, []byte{I32}, nil, b.Bytes)
	return m.Encode()
}

// Yields exports run(n i32) i32: calls host.yield n times and returns n.
func Yields() []byte {
	m := &Module{}
	yield := m.Import(HostModule, "yield", nil, nil)
	step := &Buffer{}
	step.AppendByte(0x10)
	step.WriteU32(yield)
	m.Func("run", []byte{I32}, []byte{I32}, []byte{I32}, countLoop(step.Bytes))
	return m.Encode()
}

// Trap exports trap() which executes unreachable.
func Trap() []byte {
	m := &Module{}
	m.Func("trap", nil, nil, nil, []byte{0x00, 0x0B})
	return m.Encode()
}

// OutOfBounds exports oob() i32 which loads past the end of a one-page memory.
func OutOfBounds() []byte {
	m := &Module{}
	m.Memory(1)
	b := &Buffer{}
	b.AppendByte(0x41)
	b.WriteI32(2 * 65536)
	b.WriteBytes(0x28, 0x02, 0x00) // i32.load align=2 offset=0
	b.AppendByte(0x0B)
	m.Func("oob", nil, []byte{I32}, nil, b.Bytes)
	return m.Encode()
}

// Recurse exports recurse() which calls itself until the stack overflows.
func Recurse() []byte {
	m := &Module{}
	self := m.NextFunc()
	b := &Buffer{}
	b.AppendByte(0x10)
	b.WriteU32(self)
	b.AppendByte(0x0B)
	m.Func("recurse", nil, nil, nil, b.Bytes)
	return m.Encode()
}

// Workload names a sample guest module and the export to invoke.
type Workload struct {
	Name        string
	Export      string
	Description string
	Params      int
	Build       func() []byte
}

var workloads = map[string]Workload{
	"fib":      {Name: "fib", Export: "fib", Params: 1, Build: Fib, Description: "recursive fibonacci"},
	"fib_wat":  {Name: "fib_wat", Export: "fib", Params: 1, Build: FibText, Description: "fibonacci from text, shadow stack"},
	"spin":     {Name: "spin", Export: "spin", Build: Spin, Description: "infinite loop"},
	"count":    {Name: "count", Export: "count", Params: 1, Build: Count, Description: "counted loop"},
	"sleep":    {Name: "sleep", Export: "run", Build: SleepThenAnswer, Description: "host.sleep then 42"},
	"sleep2":   {Name: "sleep2", Export: "run", Build: SleepTwice, Description: "two host.sleep calls then 42"},
	"sleep_ms": {Name: "sleep_ms", Export: "run", Params: 1, Build: SleepMillis, Description: "host.sleep_ms(n) then n"},
	"yield":    {Name: "yield", Export: "run", Params: 1, Build: Yields, Description: "host.yield n times"},
	"trap":     {Name: "trap", Export: "trap", Build: Trap, Description: "unreachable"},
	"oob":      {Name: "oob", Export: "oob", Build: OutOfBounds, Description: "out of bounds load"},
	"recurse":  {Name: "recurse", Export: "recurse", Build: Recurse, Description: "unbounded recursion"},
}

// Lookup returns the named workload.
func Lookup(name string) (Workload, bool) {
	w, ok := workloads[name]
	return w, ok
}

// Names returns all workload names, sorted.
func Names() []string {
	names := make([]string, 0, len(workloads))
	for n := range workloads {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
