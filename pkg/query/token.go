package query

import (
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokInt
	tokFloat
	tokString
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
	tokAssign
	tokOp // ==, !=, <, <=, >, >=, +, -, *, /
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset in source
	line int
}

// lex splits DSL source into tokens. Comment lines (#) are skipped; newlines
// are kept as statement separators.
func lex(src string) ([]token, error) {
	var toks []token
	line := 1
	i := 0
	n := len(src)

	emit := func(kind tokenKind, text string, pos int) {
		toks = append(toks, token{kind: kind, text: text, pos: pos, line: line})
	}

	for i < n {
		c := src[i]
		switch {
		case c == '\n':
			emit(tokNewline, "\n", i)
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '\\' && i+1 < n && src[i+1] == '\n':
			// Line continuation
			line++
			i += 2
		case c == '(':
			emit(tokLParen, "(", i)
			i++
		case c == ')':
			emit(tokRParen, ")", i)
			i++
		case c == '[':
			emit(tokLBracket, "[", i)
			i++
		case c == ']':
			emit(tokRBracket, "]", i)
			i++
		case c == ',':
			emit(tokComma, ",", i)
			i++
		case c == '.':
			emit(tokDot, ".", i)
			i++
		case c == '=':
			if i+1 < n && src[i+1] == '=' {
				emit(tokOp, "==", i)
				i += 2
			} else {
				emit(tokAssign, "=", i)
				i++
			}
		case c == '!':
			if i+1 < n && src[i+1] == '=' {
				emit(tokOp, "!=", i)
				i += 2
			} else {
				return nil, goerr.New("unexpected character", goerr.V("char", string(c)), goerr.V("line", line))
			}
		case c == '<' || c == '>':
			if i+1 < n && src[i+1] == '=' {
				emit(tokOp, src[i:i+2], i)
				i += 2
			} else {
				emit(tokOp, string(c), i)
				i++
			}
		case c == '+' || c == '-' || c == '*' || c == '/':
			emit(tokOp, string(c), i)
			i++
		case c == '\'' || c == '"':
			start := i
			quote := c
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				if src[i] == '\\' && i+1 < n {
					switch src[i+1] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(src[i+1])
					}
					i += 2
					continue
				}
				if src[i] == quote {
					closed = true
					i++
					break
				}
				if src[i] == '\n' {
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, goerr.New("unterminated string literal", goerr.V("line", line))
			}
			emit(tokString, sb.String(), start)
		case c >= '0' && c <= '9':
			start := i
			isFloat := false
			for i < n && (src[i] >= '0' && src[i] <= '9') {
				i++
			}
			if i < n && src[i] == '.' && i+1 < n && src[i+1] >= '0' && src[i+1] <= '9' {
				isFloat = true
				i++
				for i < n && (src[i] >= '0' && src[i] <= '9') {
					i++
				}
			}
			if isFloat {
				emit(tokFloat, src[start:i], start)
			} else {
				emit(tokInt, src[start:i], start)
			}
		case isIdentStart(rune(c)):
			start := i
			for i < n && isIdentPart(rune(src[i])) {
				i++
			}
			emit(tokIdent, src[start:i], start)
		default:
			return nil, goerr.New("unexpected character", goerr.V("char", string(c)), goerr.V("line", line))
		}
	}

	emit(tokEOF, "", n)
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
