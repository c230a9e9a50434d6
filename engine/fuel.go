package engine

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// FuelSink receives the fuel charged by metered guest code. ConsumeFuel
// runs on the goroutine executing the guest and may suspend it.
type FuelSink interface {
	ConsumeFuel(ctx context.Context, cost uint32)
}

type ctxKeyFuelSink struct{}

func WithFuelSink(ctx context.Context, s FuelSink) context.Context {
	return context.WithValue(ctx, ctxKeyFuelSink{}, s)
}

func GetFuelSink(ctx context.Context) FuelSink {
	if v := ctx.Value(ctxKeyFuelSink{}); v != nil {
		return v.(FuelSink)
	}
	return nil
}

// consumeFuel backs the fiber.consume_fuel import. Calls outside an
// invocation are free.
func consumeFuel(ctx context.Context, _ api.Module, stack []uint64) {
	if sink := GetFuelSink(ctx); sink != nil {
		sink.ConsumeFuel(ctx, api.DecodeU32(stack[0]))
	}
}

const (
	trapPrefix    = "wasm error: "
	stackOverflow = "stack overflow"
)

// TrapReason extracts the runtime trap reason from a call error, such as
// "unreachable" or "out of bounds memory access". It returns "" when err
// did not originate in guest execution.
func TrapReason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	i := strings.Index(msg, trapPrefix)
	if i < 0 {
		// wazero reports call stack exhaustion without the trap prefix.
		if strings.Contains(msg, stackOverflow) {
			return stackOverflow
		}
		return ""
	}
	reason := msg[i+len(trapPrefix):]
	if j := strings.IndexByte(reason, '\n'); j >= 0 {
		reason = reason[:j]
	}
	return strings.TrimSpace(reason)
}
