// Lexer half of the linker-script scanner. Grounded on pattyshack-si's use
// of parseutil's buffered byte reader for location-tracked lexing: every
// token carries the parseutil.Location it started at, so parser errors can
// be reported the way gt's own tools report theirs.
package script

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pattyshack/gt/parseutil"

	"github.com/nyxlink/rvld/internal/diag"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokLParen
	tokRParen
	tokComma
	tokSemicolon
	tokEquals
	tokPlusEquals
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokAmp
	tokPipe
	tokDot
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of file"
	case tokIdent:
		return "identifier"
	case tokInt:
		return "integer"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	case tokSemicolon:
		return "';'"
	case tokEquals:
		return "'='"
	case tokPlusEquals:
		return "'+='"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokAmp:
		return "'&'"
	case tokPipe:
		return "'|'"
	case tokDot:
		return "'.'"
	default:
		return "unknown token"
	}
}

type token struct {
	kind tokenKind
	text string
}

// lexer wraps a parseutil buffered byte reader, scanning one byte of
// lookahead at a time. This mirrors the reader shape pattyshack-si's own
// lexers build on top of (Peek/Discard), rather than slurping the whole
// script into a []rune up front.
type lexer struct {
	reader parseutil.BufferedByteLocationReader
	loc    parseutil.Location
}

func newLexer(filename string, content []byte) *lexer {
	r := parseutil.NewBufferedByteLocationReaderFromSlice(filename, content)
	return &lexer{reader: r}
}

func isIdentStart(b byte) bool {
	return b == '_' || b == '.' || b == '$' || b == '!' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentCont(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func (l *lexer) peekByte() (byte, bool, error) {
	buf, err := l.reader.Peek(1)
	if err != nil {
		if err == io.EOF {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(buf) == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

func (l *lexer) skipSpaceAndComments() error {
	for {
		b, ok, err := l.peekByte()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if isSpace(b) {
			l.reader.Discard(1)
			continue
		}
		if b == '/' {
			buf, err := l.reader.Peek(2)
			if err != nil && err != io.EOF {
				return err
			}
			if len(buf) == 2 && buf[1] == '*' {
				l.reader.Discard(2)
				if err := l.skipBlockComment(); err != nil {
					return err
				}
				continue
			}
		}
		return nil
	}
}

func (l *lexer) skipBlockComment() error {
	for {
		buf, err := l.reader.Peek(2)
		if err != nil && err != io.EOF {
			return err
		}
		if len(buf) == 0 {
			return diag.Wrap(diag.UnrecognizedInput, fmt.Errorf("unterminated comment"), "%s", l.loc)
		}
		if len(buf) >= 2 && buf[0] == '*' && buf[1] == '/' {
			l.reader.Discard(2)
			return nil
		}
		l.reader.Discard(1)
	}
}

// next scans and returns the next token, recording its starting location on
// l.loc for use in parser error messages.
func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}

	l.loc = l.reader.Location

	b, ok, err := l.peekByte()
	if err != nil {
		return token{}, err
	}
	if !ok {
		return token{kind: tokEOF}, nil
	}

	switch {
	case b == '(':
		l.reader.Discard(1)
		return token{kind: tokLParen, text: "("}, nil
	case b == ')':
		l.reader.Discard(1)
		return token{kind: tokRParen, text: ")"}, nil
	case b == ',':
		l.reader.Discard(1)
		return token{kind: tokComma, text: ","}, nil
	case b == ';':
		l.reader.Discard(1)
		return token{kind: tokSemicolon, text: ";"}, nil
	case b == '*':
		l.reader.Discard(1)
		return token{kind: tokStar, text: "*"}, nil
	case b == '/':
		l.reader.Discard(1)
		return token{kind: tokSlash, text: "/"}, nil
	case b == '&':
		l.reader.Discard(1)
		return token{kind: tokAmp, text: "&"}, nil
	case b == '|':
		l.reader.Discard(1)
		return token{kind: tokPipe, text: "|"}, nil
	case b == '-':
		l.reader.Discard(1)
		return token{kind: tokMinus, text: "-"}, nil
	case b == '=':
		l.reader.Discard(1)
		return token{kind: tokEquals, text: "="}, nil
	case b == '+':
		buf, perr := l.reader.Peek(2)
		if perr != nil && perr != io.EOF {
			return token{}, perr
		}
		if len(buf) == 2 && buf[1] == '=' {
			l.reader.Discard(2)
			return token{kind: tokPlusEquals, text: "+="}, nil
		}
		l.reader.Discard(1)
		return token{kind: tokPlus, text: "+"}, nil
	case isDigit(b):
		return l.scanNumber()
	case isIdentStart(b):
		return l.scanIdent()
	default:
		l.reader.Discard(1)
		return token{}, diag.Wrap(diag.UnrecognizedInput, fmt.Errorf("unexpected byte %q", b), "%s", l.loc)
	}
}

func (l *lexer) scanIdent() (token, error) {
	var text []byte
	for {
		b, ok, err := l.peekByte()
		if err != nil {
			return token{}, err
		}
		if !ok || !isIdentCont(b) {
			break
		}
		text = append(text, b)
		l.reader.Discard(1)
	}
	if string(text) == "." {
		return token{kind: tokDot, text: "."}, nil
	}
	return token{kind: tokIdent, text: string(text)}, nil
}

func (l *lexer) scanNumber() (token, error) {
	var text []byte
	for {
		b, ok, err := l.peekByte()
		if err != nil {
			return token{}, err
		}
		if !ok {
			break
		}
		if isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') ||
			b == 'x' || b == 'X' || b == 'K' || b == 'M' {
			text = append(text, b)
			l.reader.Discard(1)
			continue
		}
		break
	}
	return token{kind: tokInt, text: string(text)}, nil
}

// parseIntLiteral parses a GNU-linker-script integer literal: hex (0x...),
// decimal, and the K/M byte-multiplier suffixes.
func parseIntLiteral(text string) (int64, error) {
	mult := int64(1)
	if len(text) > 0 {
		switch text[len(text)-1] {
		case 'K', 'k':
			mult = 1024
			text = text[:len(text)-1]
		case 'M', 'm':
			mult = 1024 * 1024
			text = text[:len(text)-1]
		}
	}
	n, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
