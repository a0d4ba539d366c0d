package query

import (
	"strconv"

	"github.com/m-mizutani/goerr/v2"
)

// parser is a recursive descent parser over the token stream. Grammar:
//
//	program    := (stmt NEWLINE*)*
//	stmt       := IDENT "=" expr | expr
//	expr       := orExpr
//	orExpr     := andExpr ("or" andExpr)*
//	andExpr    := notExpr ("and" notExpr)*
//	notExpr    := "not" notExpr | comparison
//	comparison := additive (("=="|"!="|"<"|"<="|">"|">="|"in"|"contains") additive)?
//	additive   := multiplicative (("+"|"-") multiplicative)*
//	multiplicative := unary (("*"|"/") unary)*
//	unary      := "-" unary | postfix
//	postfix    := primary ("." IDENT ("(" argList ")")?)*
//	primary    := INT | FLOAT | STRING | "true" | "false" | "null" | "None"
//	            | IDENT ("(" argList ")")? | "(" expr ")" | "[" argList "]"
type parser struct {
	toks []token
	pos  int
}

func parse(src string) (*program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	prog := &program{}
	for {
		p.skipNewlines()
		if p.peek().kind == tokEOF {
			break
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		prog.stmts = append(prog.stmts, stmt)
		if t := p.peek(); t.kind != tokNewline && t.kind != tokEOF {
			return nil, goerr.New("unexpected token after statement", goerr.V("token", t.text), goerr.V("line", t.line))
		}
	}
	return prog, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) skipNewlines() {
	for p.peek().kind == tokNewline {
		p.pos++
	}
}

func (p *parser) parseStmt() (node, error) {
	if p.peek().kind == tokIdent && p.toks[p.pos+1].kind == tokAssign {
		name := p.next()
		p.next() // "="
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &assignNode{ln: name.line, name: name.text, value: value}, nil
	}
	return p.parseExpr()
}

func (p *parser) parseExpr() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "or" {
		t := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{ln: t.line, op: "or", x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "and" {
		t := p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{ln: t.line, op: "and", x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		t := p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{ln: t.line, op: "not", x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	switch {
	case t.kind == tokOp && isComparisonOp(t.text):
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &binaryNode{ln: t.line, op: t.text, x: left, y: right}, nil
	case t.kind == tokIdent && (t.text == "in" || t.text == "contains"):
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &binaryNode{ln: t.line, op: t.text, x: left, y: right}, nil
	}
	return left, nil
}

func isComparisonOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		t := p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{ln: t.line, op: t.text, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/") {
		t := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{ln: t.line, op: t.text, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokOp && p.peek().text == "-" {
		t := p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{ln: t.line, op: "-", x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	recv, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokDot {
		p.next()
		name := p.peek()
		if name.kind != tokIdent {
			return nil, goerr.New("expected identifier after '.'", goerr.V("line", name.line))
		}
		p.next()
		if p.peek().kind == tokLParen {
			args, err := p.parseArgList(tokRParen)
			if err != nil {
				return nil, err
			}
			recv = &methodNode{ln: name.line, recv: recv, name: name.text, args: args}
		} else {
			recv = &attrNode{ln: name.line, recv: recv, name: name.text}
		}
	}
	return recv, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokInt:
		p.next()
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid integer literal", goerr.V("text", t.text))
		}
		return &intNode{ln: t.line, value: v}, nil
	case tokFloat:
		p.next()
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid float literal", goerr.V("text", t.text))
		}
		return &floatNode{ln: t.line, value: v}, nil
	case tokString:
		p.next()
		return &stringNode{ln: t.line, value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true", "True":
			p.next()
			return &boolNode{ln: t.line, value: true}, nil
		case "false", "False":
			p.next()
			return &boolNode{ln: t.line, value: false}, nil
		case "null", "None":
			p.next()
			return &nullNode{ln: t.line}, nil
		}
		p.next()
		if p.peek().kind == tokLParen {
			args, err := p.parseArgList(tokRParen)
			if err != nil {
				return nil, err
			}
			return &callNode{ln: t.line, fn: t.text, args: args}, nil
		}
		return &identNode{ln: t.line, name: t.text}, nil
	case tokLParen:
		p.next()
		p.skipNewlines()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipNewlines()
		if p.peek().kind != tokRParen {
			return nil, goerr.New("expected ')'", goerr.V("line", p.peek().line))
		}
		p.next()
		return inner, nil
	case tokLBracket:
		items, err := p.parseArgList(tokRBracket)
		if err != nil {
			return nil, err
		}
		return &listNode{ln: t.line, items: items}, nil
	}
	return nil, goerr.New("unexpected token", goerr.V("token", t.text), goerr.V("line", t.line))
}

// parseArgList consumes the opening bracket, a comma separated expression
// list (newlines allowed inside), and the closing bracket.
func (p *parser) parseArgList(closing tokenKind) ([]node, error) {
	p.next() // "(" or "["
	var args []node
	p.skipNewlines()
	if p.peek().kind == closing {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		p.skipNewlines()
		switch p.peek().kind {
		case tokComma:
			p.next()
			p.skipNewlines()
		case closing:
			p.next()
			return args, nil
		default:
			return nil, goerr.New("expected ',' or closing bracket", goerr.V("token", p.peek().text), goerr.V("line", p.peek().line))
		}
	}
}
