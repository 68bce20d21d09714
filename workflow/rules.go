package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Outcome is the terminal status of a task as seen by a trigger rule.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// RuleContext supplies a trigger rule with the information it may query:
// prior task outcomes in the same pipeline, and Context field values.
type RuleContext struct {
	Outcomes map[string]Outcome
	Values   map[string]any
}

// Rule is a parsed trigger-rule expression. The grammar is a small boolean
// language over task_success(id), task_failed(id), context_value(key, op,
// v), all(...), any(...) and not(...).
type Rule struct {
	raw  string
	node ruleNode
}

// ParseRule compiles expr into a Rule. An empty expr always evaluates true
// (no trigger rule gating the task).
func ParseRule(expr string) (*Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Rule{raw: expr, node: trueNode{}}, nil
	}
	p := &ruleParser{input: expr}
	node, err := p.parseExpr()
	if err != nil {
		return nil, errors.Wrapf(err, "trigger rule %q", expr)
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, errors.Errorf("trigger rule %q: unexpected trailing input at %d", expr, p.pos)
	}
	return &Rule{raw: expr, node: node}, nil
}

// MustParseRule panics on a malformed rule; intended for task authors
// registering compile-time-constant rules.
func MustParseRule(expr string) *Rule {
	r, err := ParseRule(expr)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rule) String() string { return r.raw }

// Evaluate runs the rule against rc. All identifiers named by
// task_success/task_failed must be terminal in rc.Outcomes or Evaluate
// returns an error — callers (the scheduler) only evaluate rules once every
// declared dependency has reached a terminal state.
func (r *Rule) Evaluate(rc RuleContext) (bool, error) {
	return r.node.eval(rc)
}

type ruleNode interface {
	eval(rc RuleContext) (bool, error)
}

type trueNode struct{}

func (trueNode) eval(RuleContext) (bool, error) { return true, nil }

type taskSuccessNode struct{ id string }

func (n taskSuccessNode) eval(rc RuleContext) (bool, error) {
	o, ok := rc.Outcomes[n.id]
	if !ok {
		return false, errors.Errorf("task_success(%q): no recorded outcome", n.id)
	}
	return o == OutcomeSuccess, nil
}

type taskFailedNode struct{ id string }

func (n taskFailedNode) eval(rc RuleContext) (bool, error) {
	o, ok := rc.Outcomes[n.id]
	if !ok {
		return false, errors.Errorf("task_failed(%q): no recorded outcome", n.id)
	}
	return o == OutcomeFailed, nil
}

// contextValueNode compares rc.Values[key] against a literal using op. The
// comparison itself is delegated to a CEL program compiled lazily and
// cached on first use: the literal and operator are spliced into a tiny
// `lhs <op> rhs` CEL expression with `lhs` bound from the Context at
// evaluation time, which lets the rule language support CEL's full numeric/
// string comparison semantics without reimplementing them.
type contextValueNode struct {
	key     string
	op      string
	literal string
	prg     cel.Program
}

var celCmpEnv = func() *cel.Env {
	env, err := cel.NewEnv(cel.Variable("lhs", cel.DynType))
	if err != nil {
		panic(err)
	}
	return env
}()

func compileContextValue(key, op, literal string) (*contextValueNode, error) {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
	default:
		return nil, errors.Errorf("context_value: unsupported operator %q", op)
	}
	expr := fmt.Sprintf("lhs %s %s", op, literal)
	ast, iss := celCmpEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "context_value(%q, %q, %s)", key, op, literal)
	}
	prg, err := celCmpEnv.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "context_value: building CEL program")
	}
	return &contextValueNode{key: key, op: op, literal: literal, prg: prg}, nil
}

func (n *contextValueNode) eval(rc RuleContext) (bool, error) {
	lhs, ok := rc.Values[n.key]
	if !ok {
		return false, nil
	}
	out, _, err := n.prg.Eval(map[string]any{"lhs": lhs})
	if err != nil {
		return false, errors.Wrapf(err, "context_value(%q): evaluating CEL comparison", n.key)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("context_value(%q): comparison did not yield a bool", n.key)
	}
	return b, nil
}

type allNode struct{ children []ruleNode }

func (n allNode) eval(rc RuleContext) (bool, error) {
	for _, c := range n.children {
		ok, err := c.eval(rc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

type anyNode struct{ children []ruleNode }

func (n anyNode) eval(rc RuleContext) (bool, error) {
	for _, c := range n.children {
		ok, err := c.eval(rc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type notNode struct{ child ruleNode }

func (n notNode) eval(rc RuleContext) (bool, error) {
	ok, err := n.child.eval(rc)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ruleParser is a small hand-written recursive-descent parser for the
// function-call grammar above. It intentionally does not support infix
// operators: composition is via all()/any()/not().
type ruleParser struct {
	input string
	pos   int
}

func (p *ruleParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

func (p *ruleParser) parseExpr() (ruleNode, error) {
	p.skipSpace()
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if err := p.expect('('); err != nil {
		return nil, err
	}

	switch name {
	case "task_success", "task_failed":
		id, err := p.parseStringLiteral()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		if name == "task_success" {
			return taskSuccessNode{id: id}, nil
		}
		return taskFailedNode{id: id}, nil

	case "context_value":
		key, err := p.parseStringLiteral()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(','); err != nil {
			return nil, err
		}
		p.skipSpace()
		op, err := p.parseStringLiteral()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(','); err != nil {
			return nil, err
		}
		p.skipSpace()
		literal, err := p.parseRawArg()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return compileContextValue(key, op, literal)

	case "not":
		child, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return notNode{child: child}, nil

	case "all", "any":
		var children []ruleNode
		p.skipSpace()
		for {
			if p.peek() == ')' {
				break
			}
			child, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
				p.skipSpace()
				continue
			}
			break
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		if name == "all" {
			return allNode{children: children}, nil
		}
		return anyNode{children: children}, nil

	default:
		return nil, errors.Errorf("unknown rule function %q", name)
	}
}

func (p *ruleParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *ruleParser) expect(c byte) error {
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return errors.Errorf("expected %q at position %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *ruleParser) parseIdent() (string, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", errors.Errorf("expected identifier at position %d", start)
	}
	return p.input[start:p.pos], nil
}

func (p *ruleParser) parseStringLiteral() (string, error) {
	p.skipSpace()
	if p.peek() != '"' && p.peek() != '\'' {
		return "", errors.Errorf("expected string literal at position %d", p.pos)
	}
	quote := p.input[p.pos]
	p.pos++
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != quote {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return "", errors.Errorf("unterminated string literal starting at %d", start)
	}
	s := p.input[start:p.pos]
	p.pos++
	return s, nil
}

// parseRawArg captures a context_value comparison literal verbatim (a
// quoted string, a number, or true/false) so it can be spliced into the
// CEL comparison expression.
func (p *ruleParser) parseRawArg() (string, error) {
	p.skipSpace()
	if p.peek() == '"' || p.peek() == '\'' {
		s, err := p.parseStringLiteral()
		if err != nil {
			return "", err
		}
		return strconv.Quote(s), nil
	}
	start := p.pos
	depth := 0
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '(' {
			depth++
		}
		if c == ')' {
			if depth == 0 {
				break
			}
			depth--
		}
		if c == ',' && depth == 0 {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", errors.Errorf("expected value at position %d", start)
	}
	return strings.TrimSpace(p.input[start:p.pos]), nil
}
