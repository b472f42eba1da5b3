package memory

// Node is one lead in a knowledge graph view, with every memory text that
// matched the query.
type Node struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Memories []string `json:"memories"`
}

// Edge is a directed, typed relationship between two leads.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// FoldGraph builds a graph from memories: one node per distinct lead id in
// first-seen order, and one edge per memory that names both a relationship
// type and a related lead. Memories without a lead id are skipped.
func FoldGraph(memories []Memory) Graph {
	g := Graph{Nodes: []Node{}, Edges: []Edge{}}
	index := make(map[string]int)
	for _, m := range memories {
		md := m.Metadata
		if md.LeadID == "" {
			continue
		}
		i, ok := index[md.LeadID]
		if !ok {
			i = len(g.Nodes)
			index[md.LeadID] = i
			g.Nodes = append(g.Nodes, Node{ID: md.LeadID, Category: md.Category})
		}
		g.Nodes[i].Memories = append(g.Nodes[i].Memories, m.Text)

		if md.RelationshipType != "" && md.RelatedLeadID != "" {
			g.Edges = append(g.Edges, Edge{Source: md.LeadID, Target: md.RelatedLeadID, Type: md.RelationshipType})
		}
	}
	return g
}
