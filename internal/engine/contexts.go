package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/poll"
)

// Contexts manages the lifecycle of execution contexts on clusters. It is
// the sole authority on destruction; commands borrow contexts by reference
// and never outlive them.
type Contexts struct {
	client *platform.Client
	logger *slog.Logger
}

// Create requests a new execution context and polls until the platform
// reports it running. A context that lands in the error state is destroyed
// before the error is returned, so retrying starts clean.
func (c *Contexts) Create(ctx context.Context, clusterID, language string, opts poll.Options) (*model.ExecContext, error) {
	if !model.ValidLanguage(language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	contextID, err := c.client.CreateContext(ctx, clusterID, language)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContextCreation, err)
	}

	c.logger.Debug("execution context created, awaiting ready",
		"cluster_id", clusterID, "context_id", contextID, "language", language)

	snap, err := poll.Wait(ctx, opts,
		func(fctx context.Context) (*platform.ContextSnapshot, error) {
			statusPollsTotal.WithLabelValues(string(model.KindContext)).Inc()
			return c.client.ContextStatus(fctx, clusterID, contextID)
		},
		func(s *platform.ContextSnapshot) bool {
			return s.Status == model.ContextRunning || s.Status == model.ContextError
		},
	)
	if err != nil {
		c.Destroy(context.WithoutCancel(ctx), &model.ExecContext{ID: contextID, ClusterID: clusterID})
		return nil, fmt.Errorf("%w: %w", ErrContextCreation, err)
	}
	if snap.Status == model.ContextError {
		c.Destroy(context.WithoutCancel(ctx), &model.ExecContext{ID: contextID, ClusterID: clusterID})
		return nil, fmt.Errorf("%w: context entered error state", ErrContextCreation)
	}

	return &model.ExecContext{
		ID:        contextID,
		ClusterID: clusterID,
		Language:  language,
		State:     model.ContextRunning,
	}, nil
}

// Validate probes a context with a single status fetch. It returns nil when
// the context is usable and ErrInvalidContext with a reason otherwise.
// Long-lived contexts should be validated before reuse: the platform can
// reclaim them independently, e.g. when the backing cluster restarts.
func (c *Contexts) Validate(ctx context.Context, ec *model.ExecContext) error {
	if ec == nil || ec.ID == "" {
		return fmt.Errorf("%w: no context", ErrInvalidContext)
	}

	snap, err := c.client.ContextStatus(ctx, ec.ClusterID, ec.ID)
	if err != nil {
		if platform.IsNotFound(err) {
			return fmt.Errorf("%w: context %s is gone", ErrInvalidContext, ec.ID)
		}
		return err
	}
	if snap.Status != model.ContextRunning {
		return fmt.Errorf("%w: context %s is %s", ErrInvalidContext, ec.ID, snap.Status)
	}
	return nil
}

// Destroy disposes a context best-effort. A context that is already gone
// counts as destroyed, and disposal failures are logged rather than
// returned: a leaked context is reclaimed by platform-side garbage
// collection eventually, but blocking the caller on cleanup is not
// acceptable. Destroy is idempotent.
func (c *Contexts) Destroy(ctx context.Context, ec *model.ExecContext) {
	if ec == nil || ec.ID == "" {
		return
	}

	err := c.client.DestroyContext(ctx, ec.ClusterID, ec.ID)
	switch {
	case err == nil, platform.IsNotFound(err):
		c.logger.Debug("execution context destroyed",
			"cluster_id", ec.ClusterID, "context_id", ec.ID)
	default:
		c.logger.Warn("execution context destroy failed",
			"cluster_id", ec.ClusterID, "context_id", ec.ID, "error", err)
	}
}
