package model

// GraphSnapshot is an immutable copy of the graph produced by the store on
// every merge and mutation. Consumers must never modify it; node and edge
// order is insertion order, which keeps downstream layout deterministic.
type GraphSnapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (s GraphSnapshot) NodeCount() int { return len(s.Nodes) }

func (s GraphSnapshot) EdgeCount() int { return len(s.Edges) }
