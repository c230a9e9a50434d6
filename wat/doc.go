// Package wat compiles the WebAssembly text format into binary core modules.
//
//	wasm, err := wat.Compile(`(module
//		(func (export "add") (param i32 i32) (result i32)
//			(i32.add (local.get 0) (local.get 1))))`)
//
// Supported:
//   - Types, function imports and definitions with named params and locals
//   - One memory, globals, exports, start, active data segments
//   - Folded and flat control flow: block, loop, if/then/else, br, br_if,
//     br_table, return, call
//   - Integer and float numerics, conversions, sign extension, trunc_sat
//   - Loads and stores with offset= and align=
//   - Typed select
//   - Line (;;) and block (; ;) comments
//
// Imports must precede definitions. Tables, elements, reference types,
// call_indirect, bulk memory and SIMD are rejected.
package wat
