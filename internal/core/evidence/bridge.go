// Package evidence carries the shared highlight state between the graph
// pane and the document viewer. Exactly one highlight exists at a time:
// activation replaces the previous one, last writer wins. Both panes
// activate through the same entry point, so the viewer never needs to know
// which pane triggered the highlight.
package evidence

import (
	"sync"

	"github.com/lumenlab/redline/internal/core/anchor"
)

// Highlight is the current provenance pointer: a page region in the source
// document, optionally annotated with its origin.
type Highlight struct {
	Page     int         `json:"page"`
	BBox     anchor.BBox `json:"bbox"`
	DocHash  string      `json:"doc_hash,omitempty"`
	Snippet  string      `json:"snippet,omitempty"`
	OriginID string      `json:"origin_id,omitempty"` // claim or edge id
}

// Subscriber observes highlight changes. A nil value means the highlight
// was cleared.
type Subscriber func(*Highlight)

// Bridge is the single shared cell. It is created per workbench session and
// shared by reference between the graph view and the document viewer.
type Bridge struct {
	mu      sync.Mutex
	current *Highlight
	subs    map[int]Subscriber
	nextSub int
}

func NewBridge() *Bridge {
	return &Bridge{subs: make(map[int]Subscriber)}
}

// Activate replaces the current highlight. Highlights never queue.
func (b *Bridge) Activate(h Highlight) {
	b.mu.Lock()
	b.current = &h
	subs := b.snapshotSubsLocked()
	b.mu.Unlock()

	for _, s := range subs {
		s(&h)
	}
}

// Clear removes the current highlight, e.g. when the evidence pane closes.
func (b *Bridge) Clear() {
	b.mu.Lock()
	b.current = nil
	subs := b.snapshotSubsLocked()
	b.mu.Unlock()

	for _, s := range subs {
		s(nil)
	}
}

// Current returns a copy of the active highlight, or nil if none.
func (b *Bridge) Current() *Highlight {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	h := *b.current
	return &h
}

// Subscribe registers fn and returns an unsubscribe func.
func (b *Bridge) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bridge) snapshotSubsLocked() []Subscriber {
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	return subs
}
