package model

// Patch is a single-operation mutation message sent to the backend to
// reconcile a local redline edit. Exactly one of the fields is set per
// patch; the server applies each patch idempotently.
type Patch struct {
	NodesDeleted []string      `json:"nodes_deleted,omitempty"`
	EdgesDeleted []string      `json:"edges_deleted,omitempty"`
	EdgeUpdated  *EdgeUpdate   `json:"edge_updated,omitempty"`
	NodeVerified *VerifiedFlag `json:"node_verified,omitempty"`
	EdgeVerified *VerifiedFlag `json:"edge_verified,omitempty"`
	Merge        *MergeRequest `json:"merge,omitempty"`
}

// EdgeUpdate carries the full post-rewire endpoints of an edge.
type EdgeUpdate struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// VerifiedFlag carries a node or edge verification toggle.
type VerifiedFlag struct {
	ID       string `json:"id"`
	Verified bool   `json:"is_expert_verified"`
}

// MergeRequest asks the backend to alias the source entity to the target.
// The operation is additive: evidence transfers, nothing is deleted.
type MergeRequest struct {
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	ProjectID string `json:"project_id"`
}

// MutationKind tags a MutationIntent.
type MutationKind string

const (
	MutationDeleteNode         MutationKind = "delete_node"
	MutationDeleteEdge         MutationKind = "delete_edge"
	MutationRewireEdge         MutationKind = "rewire_edge"
	MutationToggleNodeVerified MutationKind = "toggle_node_verified"
	MutationToggleEdgeVerified MutationKind = "toggle_edge_verified"
	MutationMerge              MutationKind = "merge"
)

// MutationIntent is one operator-initiated graph mutation. Delete, rewire
// and verify intents are only accepted while redline mode is active; merge
// intents are always accepted since merging is non-destructive and goes
// through its own two-phase resolver.
type MutationIntent struct {
	Kind MutationKind `json:"kind"`

	// ID names the node or edge the intent applies to. Unused for merges.
	ID string `json:"id,omitempty"`

	// Rewire endpoints; an empty string keeps the current endpoint.
	NewSource string `json:"new_source,omitempty"`
	NewTarget string `json:"new_target,omitempty"`

	// Merge selection.
	SourceID string `json:"source_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
}
