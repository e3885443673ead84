// Package mergeop implements the guarded two-step entity merge workflow:
// pick a source and a target, then confirm. Merging is additive (the
// backend aliases one entity to the other and transfers evidence), so the
// workflow is available regardless of redline mode. The resolver only
// guarantees the request is well-formed and that at most one confirmation
// is in flight; the semantic merge itself is the backend's job.
package mergeop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/patchsync"
)

var (
	ErrSelectionIncomplete = errors.New("mergeop: both source and target must be selected")
	ErrSelfMerge           = errors.New("mergeop: source and target must differ")
	ErrMergeInFlight       = errors.New("mergeop: a merge request is already in flight")
)

// Resolver holds the two-phase selection for one merge dialog instance.
type Resolver struct {
	mu       sync.Mutex
	sourceID string
	targetID string
	inFlight bool

	projectID string
	sender    patchsync.Sender
	logger    *zap.Logger
}

func NewResolver(projectID string, sender patchsync.Sender, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{projectID: projectID, sender: sender, logger: logger}
}

// SelectSource sets the entity to be merged away.
func (r *Resolver) SelectSource(id string) {
	r.mu.Lock()
	r.sourceID = id
	r.mu.Unlock()
}

// SelectTarget sets the surviving entity.
func (r *Resolver) SelectTarget(id string) {
	r.mu.Lock()
	r.targetID = id
	r.mu.Unlock()
}

// Selection returns the current pair.
func (r *Resolver) Selection() (source, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sourceID, r.targetID
}

// Ready reports whether confirmation is currently allowed.
func (r *Resolver) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sourceID != "" && r.targetID != "" && r.sourceID != r.targetID && !r.inFlight
}

// Reset clears the selection, e.g. when the dialog is cancelled.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.sourceID = ""
	r.targetID = ""
	r.mu.Unlock()
}

// ConfirmMerge validates the selection and issues the merge request. The
// preconditions are checked before any network call: an incomplete or
// self-referential selection never reaches the wire. On failure the
// selection is kept so the operator can retry or cancel; on success it is
// cleared.
func (r *Resolver) ConfirmMerge(ctx context.Context) error {
	r.mu.Lock()
	if r.sourceID == "" || r.targetID == "" {
		r.mu.Unlock()
		return ErrSelectionIncomplete
	}
	if r.sourceID == r.targetID {
		r.mu.Unlock()
		return ErrSelfMerge
	}
	if r.inFlight {
		r.mu.Unlock()
		return ErrMergeInFlight
	}
	r.inFlight = true
	source, target := r.sourceID, r.targetID
	r.mu.Unlock()

	err := r.sender.Send(ctx, model.Patch{Merge: &model.MergeRequest{
		SourceID:  source,
		TargetID:  target,
		ProjectID: r.projectID,
	}})

	r.mu.Lock()
	r.inFlight = false
	if err == nil {
		r.sourceID = ""
		r.targetID = ""
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("merge request failed",
			zap.String("source", source),
			zap.String("target", target),
			zap.Error(err))
		return err
	}
	r.logger.Info("entities merged",
		zap.String("source", source),
		zap.String("target", target))
	return nil
}
