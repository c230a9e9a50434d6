package wat

import (
	"github.com/wippyai/wasm-fiber/wat/internal/encoder"
	"github.com/wippyai/wasm-fiber/wat/internal/parser"
	"github.com/wippyai/wasm-fiber/wat/internal/token"
)

// Compile parses a text module and returns its binary encoding.
func Compile(source string) ([]byte, error) {
	tokens, err := token.Tokenize(source)
	if err != nil {
		return nil, err
	}
	mod, err := parser.New(tokens).Parse()
	if err != nil {
		return nil, err
	}
	return encoder.Encode(mod), nil
}
