package token

import (
	"fmt"
	"unicode"
)

type Type int

const (
	LParen Type = iota
	RParen
	Keyword
	ID
	String
	Number
)

func (t Type) String() string {
	switch t {
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case Keyword:
		return "keyword"
	case ID:
		return "identifier"
	case String:
		return "string"
	case Number:
		return "number"
	}
	return "unknown"
}

// Token is one lexeme. String values keep their escapes; Number values keep
// their sign, base prefix and underscores.
type Token struct {
	Value string
	Type  Type
	Line  int
}

func (t Token) String() string {
	if t.Type == String {
		return fmt.Sprintf("%q", t.Value)
	}
	return t.Value
}

// idchar reports whether r may appear in a keyword, $id or number.
func idchar(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '/',
		':', '<', '=', '>', '?', '@', '\\', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// Tokenize splits WAT source into tokens, dropping whitespace and both
// comment forms.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	line := 1
	runes := []rune(input)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case r == '\n':
			line++
			continue
		case unicode.IsSpace(r):
			continue

		case r == ';' && i+1 < len(runes) && runes[i+1] == ';':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			line++
			continue

		case r == '(' && i+1 < len(runes) && runes[i+1] == ';':
			start := line
			depth := 1
			i += 2
			for ; i < len(runes) && depth > 0; i++ {
				switch {
				case runes[i] == '(' && i+1 < len(runes) && runes[i+1] == ';':
					depth++
					i++
				case runes[i] == ';' && i+1 < len(runes) && runes[i+1] == ')':
					depth--
					i++
				case runes[i] == '\n':
					line++
				}
			}
			if depth > 0 {
				return nil, fmt.Errorf("line %d: unterminated block comment", start)
			}
			i--
			continue

		case r == '(':
			tokens = append(tokens, Token{"(", LParen, line})
			continue
		case r == ')':
			tokens = append(tokens, Token{")", RParen, line})
			continue

		case r == '"':
			start := i + 1
			i++
			for i < len(runes) && runes[i] != '"' {
				if runes[i] == '\n' {
					return nil, fmt.Errorf("line %d: newline in string", line)
				}
				if runes[i] == '\\' {
					i++
				}
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("line %d: unterminated string", line)
			}
			tokens = append(tokens, Token{string(runes[start:i]), String, line})
			continue
		}

		if !idchar(r) {
			return nil, fmt.Errorf("line %d: unexpected character %q", line, r)
		}
		start := i
		for i < len(runes) && idchar(runes[i]) {
			i++
		}
		word := string(runes[start:i])
		i--

		typ := Keyword
		switch {
		case r == '$':
			if len(word) == 1 {
				return nil, fmt.Errorf("line %d: empty identifier", line)
			}
			typ = ID
		case unicode.IsDigit(r):
			typ = Number
		case (r == '-' || r == '+') && len(word) > 1 && unicode.IsDigit([]rune(word)[1]):
			typ = Number
		}
		tokens = append(tokens, Token{word, typ, line})
	}

	return tokens, nil
}
