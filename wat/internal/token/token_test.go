package token

import (
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	input := `(module ;; line comment
  (; block (; nested ;) comment ;)
  (func $f (i32.load offset=8 (i32.const -0x10)) (f64.const -inf) (data "a\"b")))`

	want := []Token{
		{Type: LParen, Value: "(", Line: 1},
		{Type: Keyword, Value: "module", Line: 1},
		{Type: LParen, Value: "(", Line: 3},
		{Type: Keyword, Value: "func", Line: 3},
		{Type: ID, Value: "$f", Line: 3},
		{Type: LParen, Value: "(", Line: 3},
		{Type: Keyword, Value: "i32.load", Line: 3},
		{Type: Keyword, Value: "offset=8", Line: 3},
		{Type: LParen, Value: "(", Line: 3},
		{Type: Keyword, Value: "i32.const", Line: 3},
		{Type: Number, Value: "-0x10", Line: 3},
		{Type: RParen, Value: ")", Line: 3},
		{Type: RParen, Value: ")", Line: 3},
		{Type: LParen, Value: "(", Line: 3},
		{Type: Keyword, Value: "f64.const", Line: 3},
		{Type: Keyword, Value: "-inf", Line: 3},
		{Type: RParen, Value: ")", Line: 3},
		{Type: LParen, Value: "(", Line: 3},
		{Type: Keyword, Value: "data", Line: 3},
		{Type: String, Value: `a\"b`, Line: 3},
		{Type: RParen, Value: ")", Line: 3},
		{Type: RParen, Value: ")", Line: 3},
		{Type: RParen, Value: ")", Line: 3},
	}

	got, err := Tokenize(input)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name, input, wantErr string
	}{
		{"unterminated comment", "(module (; x", "line 1: unterminated block comment"},
		{"unterminated string", `(data "abc`, "unterminated string"},
		{"newline in string", "(data \"a\nb\")", "newline in string"},
		{"empty id", "(func $ )", "empty identifier"},
		{"bad character", "(module {)", "unexpected character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
