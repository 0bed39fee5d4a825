// Package graph projects the internal class relations onto a directed graph
// for diagnostics: dependency cycles among classes explain why invalidation
// cascades take multiple compile cycles to settle.
package graph

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/incbuild/incc/pkg/analysis"
)

// ClassGraph is the class-level dependency graph of one analysis.
type ClassGraph struct {
	graph  *simple.DirectedGraph
	ids    map[string]int64
	names  map[int64]string
	nextID int64
}

func NewClassGraph() *ClassGraph {
	return &ClassGraph{
		graph: simple.NewDirectedGraph(),
		ids:   make(map[string]int64),
		names: make(map[int64]string),
	}
}

// FromRelations builds the graph over every internal dependency edge.
func FromRelations(r *analysis.Relations) *ClassGraph {
	g := NewClassGraph()
	for _, d := range r.InternalClassGraph() {
		g.AddDependency(d.From, d.To)
	}
	return g
}

// AddClass adds a class node if it is not present yet.
func (g *ClassGraph) AddClass(name string) {
	if _, exists := g.ids[name]; exists {
		return
	}
	id := g.nextID
	g.nextID++
	g.ids[name] = id
	g.names[id] = name
	g.graph.AddNode(simple.Node(id))
}

// AddDependency adds a from -> to edge, creating missing nodes.
func (g *ClassGraph) AddDependency(from, to string) {
	if from == to {
		return
	}
	g.AddClass(from)
	g.AddClass(to)
	fromID, toID := g.ids[from], g.ids[to]
	if !g.graph.HasEdgeFromTo(fromID, toID) {
		g.graph.SetEdge(g.graph.NewEdge(g.graph.Node(fromID), g.graph.Node(toID)))
	}
}

// Size returns the node count.
func (g *ClassGraph) Size() int {
	return len(g.ids)
}

// Cycles returns the strongly connected components with more than one
// member, each sorted, ordered by their smallest member. SCC computation is
// gonum's; this only translates node ids back to class names.
func (g *ClassGraph) Cycles() [][]string {
	var cycles [][]string
	for _, scc := range topo.TarjanSCC(g.graph) {
		if len(scc) < 2 {
			continue
		}
		names := make([]string, 0, len(scc))
		for _, node := range scc {
			names = append(names, g.names[node.ID()])
		}
		sort.Strings(names)
		cycles = append(cycles, names)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}
