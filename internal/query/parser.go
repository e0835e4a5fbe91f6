package query

import (
	"fmt"
	"strconv"
)

// ParseError reports an invalid query expression: bad syntax, an unknown
// field path, or a literal that cannot be coerced to the field's type.
// It is always surfaced before the pipeline starts.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse query %q: %s", e.Input, e.Msg)
}

// Parser parses query expressions into an AST.
type Parser struct {
	input   string
	lexer   *Lexer
	current Token
}

// parse parses the input string and returns the AST root node.
func parse(input string) (Node, error) {
	p := &Parser{input: input, lexer: NewLexer(input)}
	p.advance()
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected %q after expression", p.current.Value)
	}
	return node, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Input: p.input, Msg: fmt.Sprintf(format, args...)}
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}

	return left, nil
}

// parseAnd handles AND expressions.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}

	return left, nil
}

// parseNot handles NOT expressions.
func (p *Parser) parseNot() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		expr, err := p.parseNot() // NOT is right-associative
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles parenthesized expressions and field comparisons.
func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, p.errorf("expected ')' but got %q", p.current.Value)
		}
		p.advance()
		return expr, nil

	case TokenIdent:
		return p.parseCompare()

	case TokenEOF:
		return nil, p.errorf("unexpected end of expression")

	default:
		return nil, p.errorf("unexpected token %q", p.current.Value)
	}
}

// parseCompare parses `field op value` with compile-time field and type
// validation.
func (p *Parser) parseCompare() (Node, error) {
	field, ok := lookupField(p.current.Value)
	if !ok {
		return nil, p.errorf("unknown field %q (want status, ty, name, timestamp_in_ms or transaction.duration_in_ms)", p.current.Value)
	}
	p.advance()

	var op Op
	switch p.current.Type {
	case TokenEq:
		op = OpEq
	case TokenNeq:
		op = OpNeq
	case TokenGt:
		op = OpGt
	case TokenGte:
		op = OpGte
	case TokenLt:
		op = OpLt
	case TokenLte:
		op = OpLte
	default:
		return nil, p.errorf("expected comparison operator after %q, got %q", field, p.current.Value)
	}
	p.advance()

	if op.ordering() && !field.Numeric() {
		return nil, p.errorf("operator %q requires a numeric field, %q is a string field", op, field)
	}

	var literal string
	switch p.current.Type {
	case TokenIdent, TokenNumber, TokenString:
		literal = p.current.Value
	default:
		return nil, p.errorf("expected value after %q%s, got %q", field, op, p.current.Value)
	}
	isNumberToken := p.current.Type == TokenNumber
	p.advance()

	cmp := CompareExpr{Field: field, Op: op, Str: literal}
	if field.Numeric() {
		if !isNumberToken {
			return nil, p.errorf("field %q requires a numeric literal, got %q", field, literal)
		}
		num, err := strconv.ParseUint(literal, 10, 64)
		if err != nil {
			return nil, p.errorf("field %q requires a numeric literal, got %q", field, literal)
		}
		cmp.Num = num
	}
	return cmp, nil
}
