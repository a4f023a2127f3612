// Package sqlparser is a hand-written recursive-descent parser for a small
// SELECT subset: column list, FROM, a conjunction of simple predicates,
// ORDER BY, and LIMIT. The grammar is intentionally tiny, so a parser
// generator or a general-purpose SQL library would bring along far more
// surface (joins, subqueries, DDL) than this dialect ever uses.
package sqlparser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/percolate-dev/percolate-core/internal/perrors"
)

// Op is a predicate comparison operator.
type Op string

const (
	OpEq      Op = "="
	OpLt      Op = "<"
	OpLte     Op = "<="
	OpGt      Op = ">"
	OpGte     Op = ">="
	OpIn      Op = "IN"
	OpLike    Op = "LIKE"
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// Predicate is one WHERE-clause conjunct.
type Predicate struct {
	Column   string
	Op       Op
	Value    any   // for Eq/Lt/Lte/Gt/Gte/Like
	Values   []any // for In
}

// OrderDirection is ASC or DESC.
type OrderDirection string

const (
	Asc  OrderDirection = "ASC"
	Desc OrderDirection = "DESC"
)

// Query is the parsed form of a SELECT statement.
type Query struct {
	Columns    []string // nil/empty means "*"
	CountStar  bool
	From       string
	Where      []Predicate
	OrderBy    string
	Direction  OrderDirection
	Limit      int // meaningful only when HasLimit is set
	HasLimit   bool
}

// Parse tokenises and parses sql into a Query, or fails BadQuery.
func Parse(sql string) (*Query, error) {
	toks := tokenize(sql)
	p := &parser{toks: toks}
	q, err := p.parseSelect()
	if err != nil {
		return nil, perrors.BadQuery(err.Error())
	}
	if p.pos != len(p.toks) {
		return nil, perrors.BadQuery(fmt.Sprintf("unexpected trailing input near %q", p.peek()))
	}
	return q, nil
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) peekUpper() string { return strings.ToUpper(p.peek()) }

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expectUpper(word string) error {
	if p.peekUpper() != word {
		return fmt.Errorf("expected %q, got %q", word, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) parseSelect() (*Query, error) {
	if err := p.expectUpper("SELECT"); err != nil {
		return nil, err
	}

	q := &Query{}
	if p.peek() == "*" {
		p.next()
	} else if p.peekUpper() == "COUNT" {
		p.next()
		if err := p.expectLiteral("("); err != nil {
			return nil, err
		}
		if err := p.expectLiteral("*"); err != nil {
			return nil, err
		}
		if err := p.expectLiteral(")"); err != nil {
			return nil, err
		}
		q.CountStar = true
	} else {
		for {
			col := p.next()
			if col == "" {
				return nil, fmt.Errorf("expected column name")
			}
			q.Columns = append(q.Columns, col)
			if p.peek() == "," {
				p.next()
				continue
			}
			break
		}
	}

	if err := p.expectUpper("FROM"); err != nil {
		return nil, err
	}
	q.From = p.next()
	if q.From == "" {
		return nil, fmt.Errorf("expected table name after FROM")
	}

	if p.peekUpper() == "WHERE" {
		p.next()
		preds, err := p.parseConjunction()
		if err != nil {
			return nil, err
		}
		q.Where = preds
	}

	if p.peekUpper() == "ORDER" {
		p.next()
		if err := p.expectUpper("BY"); err != nil {
			return nil, err
		}
		q.OrderBy = p.next()
		q.Direction = Asc
		switch p.peekUpper() {
		case "ASC":
			p.next()
		case "DESC":
			p.next()
			q.Direction = Desc
		}
	}

	if p.peekUpper() == "LIMIT" {
		p.next()
		n, err := strconv.Atoi(p.next())
		if err != nil {
			return nil, fmt.Errorf("LIMIT requires an integer")
		}
		q.Limit = n
		q.HasLimit = true
	}

	return q, nil
}

func (p *parser) expectLiteral(lit string) error {
	if p.peek() != lit {
		return fmt.Errorf("expected %q, got %q", lit, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) parseConjunction() ([]Predicate, error) {
	var preds []Predicate
	for {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
		if p.peekUpper() == "AND" {
			p.next()
			continue
		}
		break
	}
	return preds, nil
}

func (p *parser) parsePredicate() (Predicate, error) {
	col := p.next()
	if col == "" {
		return Predicate{}, fmt.Errorf("expected column in predicate")
	}

	switch p.peekUpper() {
	case "IS":
		p.next()
		if p.peekUpper() == "NOT" {
			p.next()
			if err := p.expectUpper("NULL"); err != nil {
				return Predicate{}, err
			}
			return Predicate{Column: col, Op: OpNotNull}, nil
		}
		if err := p.expectUpper("NULL"); err != nil {
			return Predicate{}, err
		}
		return Predicate{Column: col, Op: OpIsNull}, nil
	case "IN":
		p.next()
		if err := p.expectLiteral("("); err != nil {
			return Predicate{}, err
		}
		var values []any
		for {
			lit := p.next()
			values = append(values, parseLiteral(lit))
			if p.peek() == "," {
				p.next()
				continue
			}
			break
		}
		if err := p.expectLiteral(")"); err != nil {
			return Predicate{}, err
		}
		return Predicate{Column: col, Op: OpIn, Values: values}, nil
	case "LIKE":
		p.next()
		return Predicate{Column: col, Op: OpLike, Value: parseLiteral(p.next())}, nil
	}

	opTok := p.next()
	op, ok := map[string]Op{"=": OpEq, "<": OpLt, "<=": OpLte, ">": OpGt, ">=": OpGte}[opTok]
	if !ok {
		return Predicate{}, fmt.Errorf("unsupported operator %q", opTok)
	}
	return Predicate{Column: col, Op: op, Value: parseLiteral(p.next())}, nil
}

func parseLiteral(tok string) any {
	if len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
		return tok[1 : len(tok)-1]
	}
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return n
	}
	switch strings.ToUpper(tok) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return tok
}

// tokenize splits sql into a token stream: quoted strings are kept intact
// (including their quotes, stripped by parseLiteral), and the punctuation
// ( ) , are their own tokens.
func tokenize(sql string) []string {
	var toks []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			toks = append(toks, b.String())
			b.Reset()
		}
	}
	inQuote := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'':
			b.WriteByte(c)
			inQuote = !inQuote
		case inQuote:
			b.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		case c == '(' || c == ')' || c == ',' || c == '*':
			flush()
			toks = append(toks, string(c))
		case c == '<' || c == '>':
			flush()
			if i+1 < len(sql) && sql[i+1] == '=' {
				toks = append(toks, string(c)+"=")
				i++
			} else {
				toks = append(toks, string(c))
			}
		case c == '=':
			flush()
			toks = append(toks, "=")
		default:
			b.WriteByte(c)
		}
	}
	flush()
	return toks
}
