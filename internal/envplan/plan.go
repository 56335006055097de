package envplan

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Identifies the composition rule that bound a variable.
type Rule string

const (
	RuleBase       Rule = "base"
	RuleStaticLink Rule = "static-link"
	RuleLinkFlags  Rule = "link-flags"
	RuleToolchain  Rule = "toolchain"
)

// One variable binding.
type Entry struct {
	Name  string
	Value string
	Rule  Rule
}

// Ordered, immutable environment for one build.
type Plan struct {
	entries []Entry
	index   map[string]int
}

// Returns the value bound to name.
func (p *Plan) Get(name string) (string, bool) {
	i, ok := p.index[name]
	if !ok {
		return "", false
	}
	return p.entries[i].Value, true
}

// Reports whether name is bound, including presence-only variables.
func (p *Plan) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Returns the rule that bound name.
func (p *Plan) Rule(name string) (Rule, bool) {
	i, ok := p.index[name]
	if !ok {
		return "", false
	}
	return p.entries[i].Rule, true
}

// Returns the number of variables.
func (p *Plan) Len() int {
	return len(p.entries)
}

// Returns the variable names in composition order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.Name
	}
	return names
}

// Returns a copy of the bindings in composition order.
func (p *Plan) Entries() []Entry {
	return slices.Clone(p.entries)
}

// Formats the plan as "NAME=value" strings in composition order.
func (p *Plan) Environ() []string {
	env := make([]string, len(p.entries))
	for i, e := range p.entries {
		env[i] = e.Name + "=" + e.Value
	}
	return env
}

// Returns the plan as a map.
func (p *Plan) Map() map[string]string {
	m := make(map[string]string, len(p.entries))
	for _, e := range p.entries {
		m[e.Name] = e.Value
	}
	return m
}

// Returns the content digest of the plan.
//
// Bindings are sorted by name and JSON-encoded as pairs before hashing, so the
// digest depends only on the bindings and not on composition order.
func (p *Plan) Digest() digest.Digest {
	pairs := make([][2]string, len(p.entries))
	for i, e := range p.entries {
		pairs[i] = [2]string{e.Name, e.Value}
	}
	slices.SortFunc(pairs, func(a, b [2]string) int {
		return strings.Compare(a[0], b[0])
	})

	// Encoding a slice of string pairs cannot fail.
	b, _ := json.Marshal(pairs)
	return digest.FromBytes(b)
}

func (p *Plan) String() string {
	return strings.Join(p.Environ(), "\n")
}

// Accumulates bindings, rejecting any name bound twice.
type assembler struct {
	plan *Plan
	err  error
}

func newAssembler() *assembler {
	return &assembler{plan: &Plan{index: make(map[string]int)}}
}

// Binds name to value under rule. After the first error every call is a no-op.
func (a *assembler) set(rule Rule, name, value string) {
	if a.err != nil {
		return
	}

	if i, ok := a.plan.index[name]; ok {
		a.err = fmt.Errorf("%w %s: bound by %s rule, rebound by %s rule", ErrDuplicateKey, name, a.plan.entries[i].Rule, rule)
		return
	}

	a.plan.index[name] = len(a.plan.entries)
	a.plan.entries = append(a.plan.entries, Entry{Name: name, Value: value, Rule: rule})
}

// Binds every variable in order.
func (a *assembler) setAll(rule Rule, vars []Entry) {
	for _, v := range vars {
		a.set(rule, v.Name, v.Value)
	}
}

// Returns the assembled plan or the first error.
func (a *assembler) finish() (*Plan, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.plan, nil
}
