package model

import "github.com/lumenlab/redline/internal/core/anchor"

// EventType discriminates the frames arriving on a job's event stream.
type EventType string

const (
	EventConnected   EventType = "connected"
	EventGraphUpdate EventType = "graph_update"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// StreamEvent is one frame of the backend job stream, as it appears on the
// wire. Nodes and Edges are only present for graph_update frames; Message
// only for error frames.
type StreamEvent struct {
	Type    EventType  `json:"type"`
	Nodes   []WireNode `json:"nodes,omitempty"`
	Edges   []WireEdge `json:"edges,omitempty"`
	Message string     `json:"message,omitempty"`
}

// WireNode is the stream representation of a node. The backend assigns ids.
type WireNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// WireEdge is the stream representation of an edge. Edges arrive without
// ids; the store derives one from (source, target, ordinal).
type WireEdge struct {
	Source            string              `json:"source"`
	Target            string              `json:"target"`
	Label             string              `json:"label"`
	Evidence          string              `json:"evidence,omitempty"`
	Confidence        *float64            `json:"confidence,omitempty"`
	SourceCoordinates *anchor.Coordinates `json:"source_coordinates,omitempty"`
	Verified          *bool               `json:"is_expert_verified,omitempty"`
}

// ToNode converts a wire node into its stored form.
func (w WireNode) ToNode() Node {
	return Node{ID: w.ID, Label: w.Label, Type: w.Type}
}

// ToEdge converts a wire edge into its stored form under the given id.
func (w WireEdge) ToEdge(id string) Edge {
	e := Edge{
		ID:                id,
		Source:            w.Source,
		Target:            w.Target,
		Label:             w.Label,
		Evidence:          w.Evidence,
		Confidence:        w.Confidence,
		SourceCoordinates: w.SourceCoordinates,
	}
	if w.Verified != nil {
		e.Verified = *w.Verified
	}
	return e
}
