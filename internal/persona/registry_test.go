package persona_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/internal/persona"
	"github.com/mockforge/core/pkg/models"
)

func TestRegistry_GetOrCreateIsDeterministic(t *testing.T) {
	r := persona.NewRegistry()

	p1 := r.GetOrCreate("user:42", models.DomainEcommerce)
	p2 := r.GetOrCreate("user:42", models.DomainEcommerce)

	require.Same(t, p1, p2, "second call must return the cached instance")
	require.Equal(t, p1.Seed, p2.Seed)
	require.Equal(t, p1.Traits, p2.Traits)
}

func TestRegistry_SameIDAcrossProcessesHasSameSeed(t *testing.T) {
	r1 := persona.NewRegistry()
	r2 := persona.NewRegistry()

	p1 := r1.GetOrCreate("order:o1", models.DomainFinance)
	p2 := r2.GetOrCreate("order:o1", models.DomainFinance)

	require.Equal(t, p1.Seed, p2.Seed)
	require.Equal(t, p1.Traits, p2.Traits)
}

func TestRegistry_DifferentDomainDifferentEntry(t *testing.T) {
	r := persona.NewRegistry()
	p1 := r.GetOrCreate("x:1", models.DomainGeneral)
	p2 := r.GetOrCreate("x:1", models.DomainHealthcare)

	require.NotSame(t, p1, p2)
	require.Equal(t, p1.Seed, p2.Seed, "seed is derived from ID alone")
	require.NotEqual(t, p1.Traits, p2.Traits)
}

func TestFindRelatedByEntityType(t *testing.T) {
	g := models.NewPersonaGraph()
	g.AddNode("user:u1", "user")
	g.AddNode("order:o1", "order")
	g.AddNode("order:o2", "order")
	g.AddNode("payment:p1", "payment")

	g.AddEdge("user:u1", "order:o1", "placed")
	g.AddEdge("user:u1", "order:o2", "placed")
	g.AddEdge("order:o1", "payment:p1", "paid_by")

	got := persona.FindRelatedByEntityType(g, "user:u1", "order", nil, 1)
	require.Equal(t, []string{"order:o1", "order:o2"}, got)

	gotDeep := persona.FindRelatedByEntityType(g, "user:u1", "payment", nil, 2)
	require.Equal(t, []string{"payment:p1"}, gotDeep)

	none := persona.FindRelatedByEntityType(g, "user:u1", "payment", nil, 1)
	require.Empty(t, none)
}

func TestFindRelatedByEntityType_RelFilter(t *testing.T) {
	g := models.NewPersonaGraph()
	g.AddNode("user:u1", "user")
	g.AddNode("order:o1", "order")
	g.AddEdge("user:u1", "order:o1", "returned")

	filter := "placed"
	got := persona.FindRelatedByEntityType(g, "user:u1", "order", &filter, 1)
	require.Empty(t, got)

	filter2 := "returned"
	got2 := persona.FindRelatedByEntityType(g, "user:u1", "order", &filter2, 1)
	require.Equal(t, []string{"order:o1"}, got2)
}

func TestGraph_AddEdgeIsIdempotent(t *testing.T) {
	g := models.NewPersonaGraph()
	g.AddEdge("a", "b", "rel")
	g.AddEdge("a", "b", "rel")
	g.AddEdge("a", "b", "rel")

	require.Len(t, g.Edges(), 1)
	require.Equal(t, []string{"b"}, g.Nodes["a"].Related["rel"])
}
