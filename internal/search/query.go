package search

import (
	"fmt"
	"strings"
	"unicode"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// Node is a parsed query expression.
type Node interface {
	String() string
}

// TermNode matches a single analyzed term, or every term starting with it
// when Prefix is set.
type TermNode struct {
	Term   string
	Prefix bool
}

// PhraseNode matches Terms adjacent and in order.
type PhraseNode struct {
	Terms []string
}

// AndNode matches documents matching every child.
type AndNode struct {
	Children []Node
}

// OrNode matches documents matching any child.
type OrNode struct {
	Children []Node
}

// NotNode matches documents not matching Child.
type NotNode struct {
	Child Node
}

func (n *TermNode) String() string {
	if n.Prefix {
		return n.Term + "*"
	}
	return n.Term
}

func (n *PhraseNode) String() string { return `"` + strings.Join(n.Terms, " ") + `"` }

func (n *AndNode) String() string { return joinNodes(n.Children, " AND ") }

func (n *OrNode) String() string { return joinNodes(n.Children, " OR ") }

func (n *NotNode) String() string { return "NOT " + n.Child.String() }

func joinNodes(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, c := range nodes {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPhrase
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) binary() bool { return t.kind == tokAnd || t.kind == tokOr }

// Parse parses a query. Bare terms are ANDed; "quoted text" is a phrase;
// AND, OR and NOT (upper case only) combine with NOT binding tightest and
// OR loosest; parentheses group; a trailing * makes a prefix term.
func Parse(query string) (Node, error) {
	toks, err := lex(query)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, docerrors.QuerySyntaxError(query, 0, "query is empty")
	}
	p := &parser{query: query, toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		t := p.peek()
		if t.kind == tokRParen {
			return nil, docerrors.QuerySyntaxError(query, t.pos, "unmatched closing parenthesis")
		}
		return nil, docerrors.QuerySyntaxError(query, t.pos, fmt.Sprintf("unexpected %q", t.text))
	}
	return node, nil
}

func lex(query string) ([]token, error) {
	var toks []token
	runes := []rune(query)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '"':
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			if end == len(runes) {
				return nil, docerrors.QuerySyntaxError(query, i, "unbalanced quote")
			}
			toks = append(toks, token{kind: tokPhrase, text: string(runes[i+1 : end]), pos: i})
			i = end + 1
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && runes[i] != '(' && runes[i] != ')' && runes[i] != '"' {
				i++
			}
			word := string(runes[start:i])
			kind := tokWord
			switch word {
			case "AND":
				kind = tokAnd
			case "OR":
				kind = tokOr
			case "NOT":
				kind = tokNot
			}
			toks = append(toks, token{kind: kind, text: word, pos: start})
		}
	}
	return toks, nil
}

type parser struct {
	query string
	toks  []token
	i     int
}

func (p *parser) done() bool { return p.i >= len(p.toks) }

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) errAt(pos int, msg string) error {
	return docerrors.QuerySyntaxError(p.query, pos, msg)
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for !p.done() && p.peek().kind == tokOr {
		op := p.peek()
		p.i++
		if p.done() {
			return nil, p.errAt(op.pos, "OR is missing its right operand")
		}
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &OrNode{Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for !p.done() {
		t := p.peek()
		if t.kind == tokOr || t.kind == tokRParen {
			break
		}
		if t.kind == tokAnd {
			p.i++
			if p.done() {
				return nil, p.errAt(t.pos, "AND is missing its right operand")
			}
		}
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &AndNode{Children: children}, nil
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	switch {
	case t.binary():
		return nil, p.errAt(t.pos, t.text+" is missing its left operand")
	case t.kind == tokNot:
		p.i++
		if p.done() {
			return nil, p.errAt(t.pos, "NOT is missing its operand")
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotNode{Child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	p.i++
	switch t.kind {
	case tokLParen:
		if p.done() {
			return nil, p.errAt(t.pos, "unclosed parenthesis")
		}
		if p.peek().kind == tokRParen {
			return nil, p.errAt(t.pos, "empty parentheses")
		}
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, p.errAt(t.pos, "unclosed parenthesis")
		}
		p.i++
		return node, nil
	case tokRParen:
		return nil, p.errAt(t.pos, "unmatched closing parenthesis")
	case tokPhrase:
		terms := Analyze(t.text)
		if len(terms) == 0 {
			return nil, p.errAt(t.pos, "empty phrase")
		}
		if len(terms) == 1 {
			return &TermNode{Term: terms[0]}, nil
		}
		return &PhraseNode{Terms: terms}, nil
	default:
		return p.wordNode(t)
	}
}

func (p *parser) wordNode(t token) (Node, error) {
	word := t.text
	prefix := false
	if strings.HasSuffix(word, "*") {
		prefix = true
		word = strings.TrimRight(word, "*")
	}
	terms := Analyze(word)
	switch {
	case len(terms) == 0:
		return nil, p.errAt(t.pos, fmt.Sprintf("%q has no searchable characters", t.text))
	case len(terms) == 1:
		return &TermNode{Term: terms[0], Prefix: prefix}, nil
	case prefix:
		return nil, p.errAt(t.pos, fmt.Sprintf("wildcard %q must be a single word", t.text))
	default:
		// "co-pay" is indexed as two adjacent terms.
		return &PhraseNode{Terms: terms}, nil
	}
}

// Analyze lowercases text and splits it on anything that is not a letter
// or digit, mirroring the index analyzers.
func Analyze(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// positiveLeaves returns the term and phrase nodes not under a NOT. These
// drive relevance scoring.
func positiveLeaves(n Node) []Node {
	switch v := n.(type) {
	case *TermNode, *PhraseNode:
		return []Node{v}
	case *AndNode:
		return collectLeaves(v.Children)
	case *OrNode:
		return collectLeaves(v.Children)
	default:
		return nil
	}
}

func collectLeaves(children []Node) []Node {
	var out []Node
	for _, c := range children {
		out = append(out, positiveLeaves(c)...)
	}
	return out
}
