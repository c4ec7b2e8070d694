package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/poll"
)

// Runs observes job runs until completion. Run creation is a plain
// request/response operation elsewhere; this component only watches runs
// that already exist and never mutates them.
type Runs struct {
	client *platform.Client
	logger *slog.Logger
	broker *Broker
}

// WaitForCompletion polls a run until its life-cycle state is terminal and
// maps the result: Succeeded is true iff the platform reports the SUCCESS
// result state, anything else carries the failing result state and message.
func (r *Runs) WaitForCompletion(ctx context.Context, runID int64, opts poll.Options) (*model.RunOutcome, error) {
	kind := string(model.KindRun)
	id := strconv.FormatInt(runID, 10)
	topic := Topic(model.KindRun, id)
	start := time.Now()
	defer r.broker.Close(topic)

	snap, err := poll.Wait(ctx, opts,
		func(fctx context.Context) (*platform.RunSnapshot, error) {
			statusPollsTotal.WithLabelValues(kind).Inc()
			s, ferr := r.client.GetRun(fctx, runID)
			if ferr == nil {
				r.broker.Publish(topic, StatusEvent{
					Kind:  model.KindRun,
					ID:    id,
					State: s.State.LifeCycleState,
					At:    time.Now().UTC(),
				})
			}
			return s, ferr
		},
		func(s *platform.RunSnapshot) bool { return model.RunTerminal(s.State.LifeCycleState) },
	)
	if err != nil {
		observeWait(kind, waitErrorLabel(err), start)
		return nil, err
	}

	outcome := &model.RunOutcome{
		RunID:          runID,
		LifeCycleState: snap.State.LifeCycleState,
		ResultState:    snap.State.ResultState,
		StateMessage:   snap.State.StateMessage,
		Succeeded:      snap.State.ResultState == model.RunResultSuccess,
		RunPageURL:     snap.RunPageURL,
	}

	label := "failure"
	if outcome.Succeeded {
		label = "success"
	}
	observeWait(kind, label, start)

	r.logger.Info("run completed",
		"run_id", runID,
		"life_cycle_state", outcome.LifeCycleState,
		"result_state", outcome.ResultState,
	)

	return outcome, nil
}
