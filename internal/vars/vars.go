// Package vars implements the predicate/effect language used by node and
// response precondition/post-effect bags. The engine only ever needs two
// verbs from a bag: "does it pass" and "apply it".
package vars

import (
	"encoding/json"
	"fmt"
)

// Bag is the free-form variable store of a session execution.
type Bag map[string]any

// Condition is one predicate over a bag.
type Condition struct {
	Var   string `json:"var"`
	Op    string `json:"op" enum:"eq,ne,gt,gte,lt,lte,exists"`
	Value any    `json:"value,omitempty"`
}

// Effect is one mutation of a bag.
type Effect struct {
	Var   string `json:"var"`
	Op    string `json:"op" enum:"set,inc,dec,push"`
	Value any    `json:"value,omitempty"`
}

// ParseBag decodes a variables JSON column. A nil or empty column is an
// empty bag, never an error.
func ParseBag(raw string) (Bag, error) {
	if raw == "" {
		return Bag{}, nil
	}
	var b Bag
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("invalid variables: %w", err)
	}
	if b == nil {
		b = Bag{}
	}
	return b, nil
}

// Encode serializes a bag back to its JSON column form.
func (b Bag) Encode() (string, error) {
	if b == nil {
		b = Bag{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseConditions decodes a precondition column. Nil column means no
// conditions.
func ParseConditions(raw *string) ([]Condition, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal([]byte(*raw), &conds); err != nil {
		return nil, fmt.Errorf("invalid preconditions: %w", err)
	}
	return conds, nil
}

// ParseEffects decodes a post-effect column. Nil column means no effects.
func ParseEffects(raw *string) ([]Effect, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var effs []Effect
	if err := json.Unmarshal([]byte(*raw), &effs); err != nil {
		return nil, fmt.Errorf("invalid effects: %w", err)
	}
	return effs, nil
}

// Eval reports whether every condition passes against the bag.
func Eval(conds []Condition, b Bag) (bool, error) {
	for _, c := range conds {
		ok, err := evalOne(c, b)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalOne(c Condition, b Bag) (bool, error) {
	if c.Var == "" {
		return false, fmt.Errorf("condition missing var")
	}
	val, present := b[c.Var]
	switch c.Op {
	case "exists":
		return present, nil
	case "eq":
		return present && looseEqual(val, c.Value), nil
	case "ne":
		return !present || !looseEqual(val, c.Value), nil
	case "gt", "gte", "lt", "lte":
		if !present {
			return false, nil
		}
		have, ok1 := asFloat(val)
		want, ok2 := asFloat(c.Value)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("condition %s on %q: not numeric", c.Op, c.Var)
		}
		switch c.Op {
		case "gt":
			return have > want, nil
		case "gte":
			return have >= want, nil
		case "lt":
			return have < want, nil
		default:
			return have <= want, nil
		}
	default:
		return false, fmt.Errorf("unknown condition op %q", c.Op)
	}
}

// Apply mutates the bag with each effect in order.
func Apply(effs []Effect, b Bag) error {
	for _, e := range effs {
		if e.Var == "" {
			return fmt.Errorf("effect missing var")
		}
		switch e.Op {
		case "set":
			b[e.Var] = e.Value
		case "inc", "dec":
			delta := 1.0
			if e.Value != nil {
				d, ok := asFloat(e.Value)
				if !ok {
					return fmt.Errorf("effect %s on %q: value not numeric", e.Op, e.Var)
				}
				delta = d
			}
			cur := 0.0
			if v, present := b[e.Var]; present {
				c, ok := asFloat(v)
				if !ok {
					return fmt.Errorf("effect %s on %q: current value not numeric", e.Op, e.Var)
				}
				cur = c
			}
			if e.Op == "dec" {
				delta = -delta
			}
			b[e.Var] = cur + delta
		case "push":
			switch existing := b[e.Var].(type) {
			case nil:
				b[e.Var] = []any{e.Value}
			case []any:
				b[e.Var] = append(existing, e.Value)
			default:
				return fmt.Errorf("effect push on %q: existing value not a list", e.Var)
			}
		default:
			return fmt.Errorf("unknown effect op %q", e.Op)
		}
	}
	return nil
}

// looseEqual compares with JSON number semantics: ints and floats that
// decode from the same literal compare equal.
func looseEqual(a, b any) bool {
	if af, ok1 := asFloat(a); ok1 {
		if bf, ok2 := asFloat(b); ok2 {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
