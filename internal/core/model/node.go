package model

// Node is one entity in a job's knowledge graph. Identity is by ID, which
// stays stable across merges; every other field is mutable in place.
type Node struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Verified bool   `json:"is_expert_verified"`
}
