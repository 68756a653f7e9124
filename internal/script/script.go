// Package script evaluates the GNU-linker-script subset spec §6 lists as
// an external interface: ENTRY, OUTPUT_FORMAT, OUTPUT_ARCH, SEARCH_DIR,
// GROUP, AS_NEEDED, INPUT, PROVIDE/PROVIDE_HIDDEN, and symbol assignments
// (`=`, `+=`, HIDDEN) with an RPN-evaluable expression grammar over
// integers, symbol values, and `.` (the current location counter).
//
// The package holds all three stages for that subset: a lexer, a
// recursive-descent parser (Parse) that builds Command values, and the
// Evaluator the driver runs in spec §4.7 phase 11. The lexer uses
// github.com/pattyshack/gt/parseutil for location-tracked scanning and
// error reporting -- the one real parsing dependency anywhere in the
// retrieval pack (pattyshack-si's chickadee compiler), rather than a
// hand-rolled offset-only error the teacher's CLI flag parser uses.
package script

import (
	"github.com/pattyshack/gt/parseutil"

	"github.com/nyxlink/rvld/internal/diag"
)

// Command is one top-level script directive.
type Command struct {
	Kind CommandKind

	// Entry / OutputFormat / OutputArch / SearchDir
	Text string

	// Input / Group members, each optionally AsNeeded
	Inputs []InputSpec

	// Assign
	Assign *Assignment
}

type CommandKind int

const (
	CmdEntry CommandKind = iota
	CmdOutputFormat
	CmdOutputArch
	CmdSearchDir
	CmdInput
	CmdGroup
	CmdAssign
)

type InputSpec struct {
	Name     string
	AsNeeded bool
}

// AssignKind distinguishes a plain assignment from PROVIDE/PROVIDE_HIDDEN/
// HIDDEN wrapping, and `=` from `+=` per spec §6.
type AssignKind int

const (
	AssignPlain AssignKind = iota
	AssignProvide
	AssignProvideHidden
	AssignHidden
	AssignAdd
)

type Assignment struct {
	Kind   AssignKind
	Symbol string
	Expr   Expr
}

// Expr is an RPN-evaluable expression node: integer literal, symbol
// reference, the current location counter `.`, or a binary operator over
// two sub-expressions.
type Expr interface {
	isExpr()
}

type IntLit struct{ Value int64 }
type SymRef struct{ Name string }
type DotRef struct{}
type BinOp struct {
	Op    string // "+", "-", "*", "/", "&", "|"
	Left  Expr
	Right Expr
}

func (IntLit) isExpr() {}
func (SymRef) isExpr() {}
func (DotRef) isExpr() {}
func (BinOp) isExpr()  {}

// Evaluator resolves Expr nodes against the driver's current location
// counter and symbol table, per spec §4.7 phase 11 ("evaluate script
// assignments with an RPN evaluator that knows about `.` ... and section
// addresses").
type Evaluator struct {
	Dot      uint64
	SymValue func(name string) (uint64, bool)
}

func (e *Evaluator) Eval(expr Expr) (uint64, error) {
	switch v := expr.(type) {
	case IntLit:
		return uint64(v.Value), nil
	case DotRef:
		return e.Dot, nil
	case SymRef:
		val, ok := e.SymValue(v.Name)
		if !ok {
			return 0, diag.New(diag.UndefinedReference, "undefined symbol %q in script expression", v.Name)
		}
		return val, nil
	case BinOp:
		l, err := e.Eval(v.Left)
		if err != nil {
			return 0, err
		}
		r, err := e.Eval(v.Right)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case "+":
			return l + r, nil
		case "-":
			return l - r, nil
		case "*":
			return l * r, nil
		case "/":
			if r == 0 {
				return 0, diag.New(diag.BadReloc, "division by zero in script expression")
			}
			return l / r, nil
		case "&":
			return l & r, nil
		case "|":
			return l | r, nil
		default:
			return 0, diag.New(diag.BadReloc, "unknown script operator %q", v.Op)
		}
	default:
		return 0, diag.New(diag.BadReloc, "unknown script expression node %T", expr)
	}
}

// Parse scans and parses the subset of GNU linker-script syntax spec §6
// names. Unsupported syntax yields a *parseutil.LocationError-wrapped
// diag.Error so callers get a file:line:col pointer, matching how
// pattyshack-si's lexer/parser layers report syntax problems.
func Parse(filename string, content []byte) ([]Command, error) {
	p := &parser{
		lex: newLexer(filename, content),
	}
	return p.parseCommands()
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) parseCommands() ([]Command, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	var cmds []Command
	for p.cur.kind != tokEOF {
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (p *parser) parseCommand() (Command, error) {
	switch {
	case p.cur.kind == tokIdent && p.cur.text == "ENTRY":
		return p.parseParenText(CmdEntry)
	case p.cur.kind == tokIdent && p.cur.text == "OUTPUT_FORMAT":
		return p.parseParenText(CmdOutputFormat)
	case p.cur.kind == tokIdent && p.cur.text == "OUTPUT_ARCH":
		return p.parseParenText(CmdOutputArch)
	case p.cur.kind == tokIdent && p.cur.text == "SEARCH_DIR":
		return p.parseParenText(CmdSearchDir)
	case p.cur.kind == tokIdent && p.cur.text == "INPUT":
		return p.parseInputList(CmdInput)
	case p.cur.kind == tokIdent && p.cur.text == "GROUP":
		return p.parseInputList(CmdGroup)
	case p.cur.kind == tokIdent && p.cur.text == "PROVIDE":
		return p.parseAssignWrapped(AssignProvide)
	case p.cur.kind == tokIdent && p.cur.text == "PROVIDE_HIDDEN":
		return p.parseAssignWrapped(AssignProvideHidden)
	case p.cur.kind == tokIdent && p.cur.text == "HIDDEN":
		return p.parseAssignWrapped(AssignHidden)
	case p.cur.kind == tokIdent || p.cur.kind == tokDot:
		return p.parseAssign()
	default:
		return Command{}, p.errf("unexpected token %q", p.cur.text)
	}
}

func (p *parser) parseParenText(kind CommandKind) (Command, error) {
	if err := p.advance(); err != nil {
		return Command{}, err
	}
	if err := p.expect(tokLParen); err != nil {
		return Command{}, err
	}
	text := p.cur.text
	if err := p.advance(); err != nil {
		return Command{}, err
	}
	if err := p.expect(tokRParen); err != nil {
		return Command{}, err
	}
	return Command{Kind: kind, Text: text}, nil
}

func (p *parser) parseInputList(kind CommandKind) (Command, error) {
	if err := p.advance(); err != nil {
		return Command{}, err
	}
	if err := p.expect(tokLParen); err != nil {
		return Command{}, err
	}
	var inputs []InputSpec
	for p.cur.kind != tokRParen {
		asNeeded := false
		if p.cur.kind == tokIdent && p.cur.text == "AS_NEEDED" {
			asNeeded = true
			if err := p.advance(); err != nil {
				return Command{}, err
			}
			if err := p.expect(tokLParen); err != nil {
				return Command{}, err
			}
			for p.cur.kind != tokRParen {
				inputs = append(inputs, InputSpec{Name: p.cur.text, AsNeeded: true})
				if err := p.advance(); err != nil {
					return Command{}, err
				}
				if p.cur.kind == tokComma {
					if err := p.advance(); err != nil {
						return Command{}, err
					}
				}
			}
			if err := p.advance(); err != nil { // consume ')'
				return Command{}, err
			}
			continue
		}
		inputs = append(inputs, InputSpec{Name: p.cur.text, AsNeeded: asNeeded})
		if err := p.advance(); err != nil {
			return Command{}, err
		}
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return Command{}, err
			}
		}
	}
	if err := p.advance(); err != nil { // consume ')'
		return Command{}, err
	}
	return Command{Kind: kind, Inputs: inputs}, nil
}

func (p *parser) parseAssignWrapped(kind AssignKind) (Command, error) {
	if err := p.advance(); err != nil {
		return Command{}, err
	}
	if err := p.expect(tokLParen); err != nil {
		return Command{}, err
	}
	sym := p.cur.text
	if err := p.advance(); err != nil {
		return Command{}, err
	}
	if err := p.expect(tokEquals); err != nil {
		return Command{}, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return Command{}, err
	}
	if err := p.expect(tokRParen); err != nil {
		return Command{}, err
	}
	if p.cur.kind == tokSemicolon {
		if err := p.advance(); err != nil {
			return Command{}, err
		}
	}
	return Command{Kind: CmdAssign, Assign: &Assignment{Kind: kind, Symbol: sym, Expr: expr}}, nil
}

func (p *parser) parseAssign() (Command, error) {
	sym := p.cur.text
	if err := p.advance(); err != nil {
		return Command{}, err
	}
	kind := AssignPlain
	switch p.cur.kind {
	case tokEquals:
	case tokPlusEquals:
		kind = AssignAdd
	default:
		return Command{}, p.errf("expected '=' or '+=' after %q", sym)
	}
	if err := p.advance(); err != nil {
		return Command{}, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return Command{}, err
	}
	if p.cur.kind == tokSemicolon {
		if err := p.advance(); err != nil {
			return Command{}, err
		}
	}
	return Command{Kind: CmdAssign, Assign: &Assignment{Kind: kind, Symbol: sym, Expr: expr}}, nil
}

// parseExpr implements a small precedence-climbing parser: term (+-|) term,
// where term is factor (*/&) factor.
func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokPlus || p.cur.kind == tokMinus || p.cur.kind == tokPipe {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokStar || p.cur.kind == tokSlash || p.cur.kind == tokAmp {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (Expr, error) {
	switch p.cur.kind {
	case tokInt:
		v, err := parseIntLiteral(p.cur.text)
		if err != nil {
			return nil, p.errf("bad integer literal %q", p.cur.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return IntLit{Value: v}, nil
	case tokDot:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return DotRef{}, nil
	case tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return SymRef{Name: name}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, p.errf("expected expression, got %q", p.cur.text)
	}
}

func (p *parser) expect(k tokenKind) error {
	if p.cur.kind != k {
		return p.errf("expected %s, got %q", k, p.cur.text)
	}
	return p.advance()
}

func (p *parser) errf(format string, args ...any) error {
	return diag.Wrap(diag.UnrecognizedInput,
		parseutil.NewLocationError(p.lex.loc, format, args...),
		"linker script parse error")
}
