package rid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	r, err := Parse("orn:koi-net.node:alpha+123")
	require.NoError(t, err)
	assert.Equal(t, "koi-net.node", r.Namespace)
	assert.Equal(t, "alpha+123", r.Reference)
	assert.Equal(t, NodeType, r.Type())
	assert.Equal(t, "orn:koi-net.node:alpha+123", r.String())
}

func TestParseReferenceWithColons(t *testing.T) {
	r, err := Parse("orn:custom.type:a:b:c")
	require.NoError(t, err)
	assert.Equal(t, "a:b:c", r.Reference)
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"orn:",
		"orn:koi-net.node",
		"orn::ref",
		"orn:ns:",
		"urn:koi-net.node:ref",
		"not a rid",
	} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestZeroValue(t *testing.T) {
	var r RID
	assert.True(t, r.IsZero())
	assert.False(t, MustParse("orn:a:b").IsZero())
}

func TestNewNode(t *testing.T) {
	a := NewNode("coordinator")
	b := NewNode("coordinator")
	assert.NotEqual(t, a, b)
	assert.Equal(t, NodeType, a.Type())
	assert.Equal(t, "coordinator", NodeName(a))
}

func TestNodeNameWithPlusInName(t *testing.T) {
	// Only the suffix after the last "+" is the UUID.
	r := RID{Namespace: string(NodeType), Reference: "a+b+uuid"}
	assert.Equal(t, "a+b", NodeName(r))

	assert.Equal(t, "", NodeName(MustParse("orn:koi-net.edge:whatever")))
}

func TestNewEdgeDeterministic(t *testing.T) {
	source := NewNode("a")
	target := NewNode("b")

	e1 := NewEdge(source, target)
	e2 := NewEdge(source, target)
	assert.Equal(t, e1, e2)
	assert.Equal(t, EdgeType, e1.Type())

	// The pair is ordered: the reverse edge is a different RID.
	assert.NotEqual(t, e1, NewEdge(target, source))
}

func TestJSONMapKey(t *testing.T) {
	r := MustParse("orn:koi-net.node:alpha+123")
	m := map[RID]int{r: 7}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orn:koi-net.node:alpha+123": 7}`, string(data))

	var decoded map[RID]int
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 7, decoded[r])
}
