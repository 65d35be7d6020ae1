package comptree

import (
	"fmt"
	"strings"
)

type GraphNode struct {
	ID    uint64 `json:"id"`
	Path  string `json:"path"`
	Type  string `json:"type"`
	State string `json:"state"`
}

// GraphEdge means "From owns To".
type GraphEdge struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Graph is a snapshot of the component tree.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph returns a snapshot of the live instances and their ownership.
func (e *Engine) Graph() Graph {
	e.mu.Lock()
	defer e.mu.Unlock()

	var g Graph
	for id := uint64(1); id <= e.nextID; id++ {
		inst, ok := e.instances[id]
		if !ok {
			continue
		}
		g.Nodes = append(g.Nodes, GraphNode{
			ID:    inst.id,
			Path:  inst.path,
			Type:  inst.typeName,
			State: inst.state.String(),
		})
		for _, child := range inst.children {
			g.Edges = append(g.Edges, GraphEdge{From: inst.id, To: child})
		}
	}
	return g
}

func nodeLabel(n GraphNode) string {
	if n.Path == "" {
		return "/"
	}
	return n.Path
}

// DOT exports Graphviz DOT text.
func (g Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph comptree {\n")
	b.WriteString("  rankdir=TB;\n")

	known := make(map[uint64]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n.ID] = struct{}{}
		label := escapeDOT(nodeLabel(n)) + "\\n(" + escapeDOT(n.Type) + ")"
		b.WriteString(fmt.Sprintf("  n%d [label=\"%s\"];\n", n.ID, label))
	}
	for _, e := range g.Edges {
		if !hasNodes(known, e) {
			continue
		}
		b.WriteString(fmt.Sprintf("  n%d -> n%d;\n", e.From, e.To))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports Mermaid graph text.
func (g Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	known := make(map[uint64]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n.ID] = struct{}{}
		label := escapeMermaid(nodeLabel(n)) + "<br/>(" + escapeMermaid(n.Type) + ")"
		b.WriteString(fmt.Sprintf("    n%d[\"%s\"]\n", n.ID, label))
	}
	for _, e := range g.Edges {
		if !hasNodes(known, e) {
			continue
		}
		b.WriteString(fmt.Sprintf("    n%d --> n%d\n", e.From, e.To))
	}
	return b.String()
}

func hasNodes(known map[uint64]struct{}, e GraphEdge) bool {
	_, okFrom := known[e.From]
	_, okTo := known[e.To]
	return okFrom && okTo
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func escapeMermaid(s string) string {
	return strings.ReplaceAll(s, "\"", "#quot;")
}
