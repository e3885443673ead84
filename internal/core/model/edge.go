package model

import (
	"fmt"

	"github.com/lumenlab/redline/internal/core/anchor"
)

// Edge is a directed relation between two nodes. Source and Target must
// reference nodes that exist in the same graph; the store enforces this and
// buffers edges whose endpoints have not arrived yet.
type Edge struct {
	ID                string              `json:"id"`
	Source            string              `json:"source"`
	Target            string              `json:"target"`
	Label             string              `json:"label"`
	Confidence        *float64            `json:"confidence,omitempty"`
	Evidence          string              `json:"evidence,omitempty"`
	SourceCoordinates *anchor.Coordinates `json:"source_coordinates,omitempty"`
	Verified          bool                `json:"is_expert_verified"`
}

// EdgeID derives the identity of an edge from its endpoints and an ordinal.
// The stream never carries edge ids, so the id must be reproducible: merging
// the same logical edge twice has to land on the same id, while two distinct
// relations between the same pair of nodes get consecutive ordinals. The id
// stays fixed for the lifetime of the edge, even if a redline rewire later
// changes its endpoints.
func EdgeID(source, target string, ordinal int) string {
	return fmt.Sprintf("%s->%s#%d", source, target, ordinal)
}
