package fiber

import (
	"math"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-fiber/engine"
	"github.com/wippyai/wasm-fiber/errors"
)

func encodeArgs(fn *engine.Function, args []any) ([]uint64, error) {
	params := fn.Params()
	if len(args) != len(params) {
		return nil, errors.TypeMismatch(fn.Name(), "expected %d arguments, got %d", len(params), len(args))
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		v, ok := encodeValue(params[i], a)
		if !ok {
			return nil, errors.TypeMismatch(fn.Name(), "argument %d: cannot pass %T as %s", i, a, api.ValueTypeName(params[i]))
		}
		raw[i] = v
	}
	return raw, nil
}

func encodeValue(t api.ValueType, a any) (uint64, bool) {
	switch t {
	case api.ValueTypeI32:
		switch v := a.(type) {
		case int32:
			return api.EncodeI32(v), true
		case uint32:
			return api.EncodeU32(v), true
		case int:
			if int64(v) < math.MinInt32 || int64(v) > math.MaxUint32 {
				return 0, false
			}
			return uint64(uint32(v)), true
		case int64:
			if v < math.MinInt32 || v > math.MaxUint32 {
				return 0, false
			}
			return uint64(uint32(v)), true
		}
	case api.ValueTypeI64:
		switch v := a.(type) {
		case int64:
			return api.EncodeI64(v), true
		case uint64:
			return v, true
		case int:
			return api.EncodeI64(int64(v)), true
		}
	case api.ValueTypeF32:
		if v, ok := a.(float32); ok {
			return api.EncodeF32(v), true
		}
	case api.ValueTypeF64:
		if v, ok := a.(float64); ok {
			return api.EncodeF64(v), true
		}
	}
	return 0, false
}

func decodeResults(fn *engine.Function, raw []uint64) []any {
	types := fn.Results()
	values := make([]any, len(raw))
	for i, r := range raw {
		var t api.ValueType
		if i < len(types) {
			t = types[i]
		}
		switch t {
		case api.ValueTypeI32:
			values[i] = api.DecodeI32(r)
		case api.ValueTypeI64:
			values[i] = int64(r)
		case api.ValueTypeF32:
			values[i] = api.DecodeF32(r)
		case api.ValueTypeF64:
			values[i] = api.DecodeF64(r)
		default:
			values[i] = r
		}
	}
	return values
}
