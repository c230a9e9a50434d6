// Package parser builds an ast.Module from WAT tokens.
package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-fiber/wat/internal/ast"
	"github.com/wippyai/wasm-fiber/wat/internal/token"
)

type Parser struct {
	mod     *ast.Module
	types   map[string]uint32
	funcs   map[string]uint32
	globals map[string]uint32
	mems    map[string]uint32
	tokens  []token.Token
	labels  []string
	pos     int

	// counts per index space, imports included
	nfuncs, nglobals, nmems uint32
	defined                 bool
}

// scope holds the local names of the function being parsed. Constant
// expressions are parsed with a nil scope.
type scope struct {
	locals map[string]uint32
	n      uint32
}

func New(tokens []token.Token) *Parser {
	return &Parser{
		tokens:  tokens,
		types:   make(map[string]uint32),
		funcs:   make(map[string]uint32),
		globals: make(map[string]uint32),
		mems:    make(map[string]uint32),
	}
}

func (p *Parser) Parse() (*ast.Module, error) {
	return p.parseModule()
}

func (p *Parser) peek() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *Parser) next() *token.Token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *Parser) line() int {
	if len(p.tokens) == 0 {
		return 1
	}
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1].Line
	}
	return p.tokens[p.pos].Line
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.line(), fmt.Sprintf(format, args...))
}

func (p *Parser) expect(typ token.Type) (*token.Token, error) {
	t := p.peek()
	if t == nil {
		return nil, p.errorf("unexpected end of input, expected %v", typ)
	}
	if t.Type != typ {
		return nil, p.errorf("expected %v, got %s", typ, t)
	}
	return p.next(), nil
}

func (p *Parser) expectKeyword(kw string) error {
	t := p.peek()
	if t == nil || t.Type != token.Keyword || t.Value != kw {
		if t == nil {
			return p.errorf("unexpected end of input, expected %q", kw)
		}
		return p.errorf("expected %q, got %s", kw, t)
	}
	p.next()
	return nil
}

func (p *Parser) keyword(kw string) bool {
	t := p.peek()
	return t != nil && t.Type == token.Keyword && t.Value == kw
}

// open reports whether the next tokens are "(" kw, without consuming them.
func (p *Parser) open(kw string) bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	a, b := p.tokens[p.pos], p.tokens[p.pos+1]
	return a.Type == token.LParen && b.Type == token.Keyword && b.Value == kw
}

// enter consumes "(" kw.
func (p *Parser) enter(kw string) error {
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	return p.expectKeyword(kw)
}

func (p *Parser) close() error {
	_, err := p.expect(token.RParen)
	return err
}

// optID consumes a $name if one is next.
func (p *Parser) optID() string {
	if t := p.peek(); t != nil && t.Type == token.ID {
		p.next()
		return t.Value
	}
	return ""
}

// skipGroup consumes tokens up to and including the ")" closing the group
// whose "(" was already consumed.
func (p *Parser) skipGroup() error {
	depth := 1
	for depth > 0 {
		t := p.next()
		if t == nil {
			return p.errorf("unexpected end of input")
		}
		switch t.Type {
		case token.LParen:
			depth++
		case token.RParen:
			depth--
		}
	}
	return nil
}

func (p *Parser) valType() (ast.ValType, error) {
	t, err := p.expect(token.Keyword)
	if err != nil {
		return 0, err
	}
	switch t.Value {
	case "i32":
		return ast.I32, nil
	case "i64":
		return ast.I64, nil
	case "f32":
		return ast.F32, nil
	case "f64":
		return ast.F64, nil
	}
	return 0, p.errorf("unsupported value type %s", t.Value)
}

// valTypes reads value types up to the closing paren, consuming it.
func (p *Parser) valTypes() ([]ast.ValType, error) {
	var out []ast.ValType
	for {
		t := p.peek()
		if t != nil && t.Type == token.RParen {
			p.next()
			return out, nil
		}
		vt, err := p.valType()
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
}

// index reads a numeric index or a $name resolved through names.
func (p *Parser) index(names map[string]uint32, what string) (uint32, error) {
	t := p.peek()
	if t == nil {
		return 0, p.errorf("unexpected end of input, expected %s index", what)
	}
	if t.Type == token.ID {
		p.next()
		idx, ok := names[t.Value]
		if !ok {
			return 0, p.errorf("unknown %s %s", what, t.Value)
		}
		return idx, nil
	}
	return p.u32()
}

func (p *Parser) isIndex() bool {
	t := p.peek()
	return t != nil && (t.Type == token.ID || t.Type == token.Number)
}

func (p *Parser) u32() (uint32, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	neg, digits, base := splitNumber(t.Value)
	v, err := strconv.ParseUint(digits, base, 32)
	if neg || err != nil {
		return 0, p.errorf("invalid unsigned integer %s", t.Value)
	}
	return uint32(v), nil
}

// integer parses an integer literal of the given width. Unsigned literals
// up to 2^bits-1 wrap to their two's complement value.
func (p *Parser) integer(bits int) (int64, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	neg, digits, base := splitNumber(t.Value)
	u, err := strconv.ParseUint(digits, base, bits)
	if err != nil {
		return 0, p.errorf("invalid i%d %s", bits, t.Value)
	}
	if !neg {
		return int64(u), nil
	}
	if u > 1<<(bits-1) {
		return 0, p.errorf("i%d %s out of range", bits, t.Value)
	}
	return -int64(u), nil
}

// splitNumber strips the sign and underscores and picks the base.
func splitNumber(s string) (neg bool, digits string, base int) {
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	s = strings.ReplaceAll(s, "_", "")
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return neg, s[2:], 16
	}
	return neg, s, 10
}

func parseUint(digits string, base int) (uint32, error) {
	v, err := strconv.ParseUint(digits, base, 32)
	return uint32(v), err
}

// float parses a float literal of the given width and returns its bit
// pattern. inf, nan and nan:0x payloads are accepted.
func (p *Parser) float(bits int) (uint64, error) {
	t := p.next()
	if t == nil {
		return 0, p.errorf("unexpected end of input, expected f%d", bits)
	}
	s := t.Value
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimLeft(s, "+-")

	if t.Type == token.Keyword {
		switch {
		case body == "inf":
			return floatBits(bits, math.Inf(sign(neg))), nil
		case body == "nan" || strings.HasPrefix(body, "nan:"):
			return p.nan(bits, neg, body)
		}
		return 0, p.errorf("invalid f%d %s", bits, s)
	}
	if t.Type != token.Number {
		return 0, p.errorf("expected f%d, got %s", bits, t)
	}

	lit := strings.ReplaceAll(s, "_", "")
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		if !strings.ContainsAny(lit, "pP") {
			lit += "p0"
		}
	}
	v, err := strconv.ParseFloat(lit, bits)
	if err != nil {
		return 0, p.errorf("invalid f%d %s", bits, s)
	}
	return floatBits(bits, v), nil
}

func sign(neg bool) int {
	if neg {
		return -1
	}
	return 1
}

func floatBits(bits int, v float64) uint64 {
	if bits == 32 {
		return uint64(math.Float32bits(float32(v)))
	}
	return math.Float64bits(v)
}

// nan builds a NaN bit pattern. The default payload is the canonical
// quiet NaN.
func (p *Parser) nan(bits int, neg bool, body string) (uint64, error) {
	mantissa := 23
	exp := uint64(0x7F800000)
	if bits == 64 {
		mantissa = 52
		exp = 0x7FF0000000000000
	}
	payload := uint64(1) << (mantissa - 1)
	if rest, ok := strings.CutPrefix(body, "nan:"); ok {
		hex := strings.TrimPrefix(strings.ReplaceAll(rest, "_", ""), "0x")
		v, err := strconv.ParseUint(hex, 16, mantissa)
		if err != nil || v == 0 {
			return 0, p.errorf("invalid nan payload %s", body)
		}
		payload = v
	}
	b := exp | payload
	if neg {
		b |= 1 << (bits - 1)
	}
	return b, nil
}

// text reads a string literal and decodes its escapes.
func (p *Parser) text() ([]byte, error) {
	t, err := p.expect(token.String)
	if err != nil {
		return nil, err
	}
	b, err := Unescape(t.Value)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	return b, nil
}

func (p *Parser) name() (string, error) {
	b, err := p.text()
	return string(b), err
}

// Unescape decodes the escapes of a WAT string body.
func Unescape(s string) ([]byte, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("string ends in an escape")
		}
		switch c = s[i]; c {
		case 't':
			out = append(out, '\t')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case '"', '\'', '\\':
			out = append(out, c)
		case 'u':
			end := strings.IndexByte(s[i:], '}')
			if i+1 >= len(s) || s[i+1] != '{' || end < 0 {
				return nil, fmt.Errorf("malformed unicode escape")
			}
			cp, err := strconv.ParseUint(strings.ReplaceAll(s[i+2:i+end], "_", ""), 16, 32)
			if err != nil || cp > 0x10FFFF || (cp >= 0xD800 && cp < 0xE000) {
				return nil, fmt.Errorf("invalid code point \\u{%s}", s[i+2:i+end])
			}
			out = append(out, string(rune(cp))...)
			i += end
		default:
			if i+1 >= len(s) {
				return nil, fmt.Errorf("invalid escape \\%c", c)
			}
			v, err := strconv.ParseUint(s[i:i+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid escape \\%s", s[i:i+2])
			}
			out = append(out, byte(v))
			i++
		}
	}
	return out, nil
}

func (p *Parser) typeIndex(ft ast.FuncType) uint32 {
	for i, t := range p.mod.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	p.mod.Types = append(p.mod.Types, ft)
	return uint32(len(p.mod.Types) - 1)
}
