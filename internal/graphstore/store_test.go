package graphstore_test

import (
	"testing"

	"github.com/dominikbraun/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-orchestrator/internal/graphstore"
)

func newGraph(t *testing.T) (graph.Graph[string, string], *graphstore.MemoryStore[string, string]) {
	t.Helper()
	s := graphstore.NewMemoryStore[string, string]()

	return graph.NewWithStore(graph.StringHash, s, graph.Directed()), s
}

func TestListVerticesOrder(t *testing.T) {
	t.Parallel()

	g, s := newGraph(t)
	for _, name := range []string{"start", "validate", "charge", "ship", "end"} {
		require.NoError(t, g.AddVertex(name))
	}
	assert.ErrorIs(t, g.AddVertex("charge"), graph.ErrVertexAlreadyExists)

	got, err := s.ListVertices()
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "validate", "charge", "ship", "end"}, got)

	require.NoError(t, s.RemoveVertex("ship"))
	got, err = s.ListVertices()
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "validate", "charge", "end"}, got)
}

func TestListEdgesOrder(t *testing.T) {
	t.Parallel()

	g, s := newGraph(t)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddVertex(name))
	}
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))

	edges, err := s.ListEdges()
	require.NoError(t, err)
	require.Len(t, edges, 3)
	assert.Equal(t, "b", edges[0].Source)
	assert.Equal(t, "a", edges[1].Source)
	assert.Equal(t, "c", edges[2].Target)

	require.NoError(t, g.RemoveEdge("a", "b"))
	edges, err = s.ListEdges()
	require.NoError(t, err)
	assert.Len(t, edges, 2)
	assert.ErrorIs(t, s.RemoveVertex("c"), graph.ErrVertexHasEdges)
}

func TestUpdateVertex(t *testing.T) {
	t.Parallel()

	g, s := newGraph(t)
	require.NoError(t, g.AddVertex("a", graph.VertexAttribute("shape", "box")))
	require.NoError(t, s.UpdateVertex("a", func(p *graph.VertexProperties) {
		p.Attributes["color"] = "red"
	}))

	_, props, err := g.VertexWithProperties("a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"shape": "box", "color": "red"}, props.Attributes)

	// returned properties are copies
	props.Attributes["color"] = "blue"
	_, props, err = s.Vertex("a")
	require.NoError(t, err)
	assert.Equal(t, "red", props.Attributes["color"])

	assert.ErrorIs(t, s.UpdateVertex("missing"), graph.ErrVertexNotFound)
}

func TestCreatesCycle(t *testing.T) {
	t.Parallel()

	g, s := newGraph(t)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddVertex(name))
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	cycle, err := s.CreatesCycle("c", "a")
	require.NoError(t, err)
	assert.True(t, cycle)

	cycle, err = s.CreatesCycle("a", "c")
	require.NoError(t, err)
	assert.False(t, cycle)

	_, err = s.CreatesCycle("a", "missing")
	assert.ErrorIs(t, err, graph.ErrVertexNotFound)
}
