package envplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblerRejectsDuplicates(t *testing.T) {
	a := newAssembler()
	a.set(RuleBase, "A", "1")
	a.set(RuleToolchain, "A", "2")
	a.set(RuleToolchain, "B", "3")

	_, err := a.finish()
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Contains(t, err.Error(), "base")
	assert.Contains(t, err.Error(), "toolchain")
}

func TestPlanAccessors(t *testing.T) {
	a := newAssembler()
	a.setAll(RuleBase, []Entry{{Name: "B", Value: "2"}, {Name: "A", Value: "1"}})
	a.set(RuleStaticLink, "FLAG", "")

	plan, err := a.finish()
	require.NoError(t, err)

	assert.Equal(t, 3, plan.Len())
	assert.Equal(t, []string{"B", "A", "FLAG"}, plan.Names())
	assert.Equal(t, []string{"B=2", "A=1", "FLAG="}, plan.Environ())
	assert.Equal(t, map[string]string{"A": "1", "B": "2", "FLAG": ""}, plan.Map())
	assert.True(t, plan.Has("FLAG"))
	assert.False(t, plan.Has("MISSING"))

	rule, ok := plan.Rule("FLAG")
	require.True(t, ok)
	assert.Equal(t, RuleStaticLink, rule)

	_, ok = plan.Get("MISSING")
	assert.False(t, ok)
}

func TestPlanEntriesIsCopy(t *testing.T) {
	a := newAssembler()
	a.set(RuleBase, "A", "1")
	plan, err := a.finish()
	require.NoError(t, err)

	entries := plan.Entries()
	entries[0].Value = "changed"

	v, _ := plan.Get("A")
	assert.Equal(t, "1", v)
}

func TestDigestIgnoresOrder(t *testing.T) {
	a := newAssembler()
	a.set(RuleBase, "A", "1")
	a.set(RuleBase, "B", "2")
	p1, err := a.finish()
	require.NoError(t, err)

	b := newAssembler()
	b.set(RuleBase, "B", "2")
	b.set(RuleBase, "A", "1")
	p2, err := b.finish()
	require.NoError(t, err)

	assert.Equal(t, p1.Digest(), p2.Digest())
}

func TestDigestSeparatesNameAndValue(t *testing.T) {
	a := newAssembler()
	a.set(RuleBase, "A", "B=C")
	p1, err := a.finish()
	require.NoError(t, err)

	b := newAssembler()
	b.set(RuleBase, "A=B", "C")
	p2, err := b.finish()
	require.NoError(t, err)

	assert.NotEqual(t, p1.Digest(), p2.Digest())
}
