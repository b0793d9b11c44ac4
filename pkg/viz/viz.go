// Package viz renders a project's persisted snapshot history — the change
// graph of its automerge document — to SVG for debugging.
package viz

import (
	"fmt"
	"io"
	"strconv"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderHistory writes an SVG of the document's change DAG. Each node is
// one persisted snapshot, labelled with the project name and updated
// timestamp as of that change.
func RenderHistory(doc *automerge.Doc, w io.Writer) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to list changes: %w", err)
	}

	nodes := make(map[string]*cgraph.Node, len(changes))
	edgeCount := 0
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		label := change.Hash().String()[:8]
		if v, err := docAt.Path("name").Get(); err == nil && v.Interface() != nil {
			label = fmt.Sprintf("%s %v", label, v.Interface())
		}
		if v, err := docAt.Path("updated").Get(); err == nil && v.Interface() != nil {
			label = fmt.Sprintf("%s @%v", label, v.Interface())
		}

		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label)
		nodes[n.Name()] = n

		for _, dep := range change.Dependencies() {
			parent, found := nodes[dep.String()]
			if !found {
				continue
			}
			edgeCount++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCount), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	if err := g.Render(graph, graphviz.SVG, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}
