package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/poll"
)

// resultTypeError is the results.resultType value the platform uses when a
// command ran to completion but the code it executed failed.
const resultTypeError = "error"

// Commands submits code into execution contexts and awaits completion.
type Commands struct {
	client   *platform.Client
	contexts *Contexts
	logger   *slog.Logger
	broker   *Broker
}

// Submit sends code into a running execution context and returns the pending
// command execution. The context must be in the running state; anything else
// is rejected with ErrInvalidContext. language may be empty to inherit the
// context's language.
func (r *Commands) Submit(ctx context.Context, ec *model.ExecContext, code, language string) (*model.CommandExecution, error) {
	if ec == nil || ec.State != model.ContextRunning {
		return nil, ErrInvalidContext
	}
	if language == "" {
		language = ec.Language
	}
	if !model.ValidLanguage(language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	commandID, err := r.client.ExecuteCommand(ctx, ec.ClusterID, ec.ID, language, code)
	if err != nil {
		if platform.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidContext, err)
		}
		return nil, err
	}

	r.logger.Debug("command submitted",
		"cluster_id", ec.ClusterID, "context_id", ec.ID, "command_id", commandID)

	return &model.CommandExecution{
		ID:        commandID,
		ContextID: ec.ID,
		ClusterID: ec.ClusterID,
		Language:  language,
		State:     model.CommandQueued,
	}, nil
}

// Await polls the command until it reaches a terminal state and returns its
// decoded result. A result already recorded on the execution is returned
// as-is: terminal results are write-once and a later await never changes
// them. When the backing context disappears mid-flight, an error result is
// synthesized and the call fails with ErrContextLost rather than leaving
// the command pending forever.
func (r *Commands) Await(ctx context.Context, cmd *model.CommandExecution, opts poll.Options) (*model.CommandResult, error) {
	if cmd.Result != nil {
		return cmd.Result, nil
	}

	kind := string(model.KindCommand)
	topic := Topic(model.KindCommand, cmd.ID)
	start := time.Now()
	defer r.broker.Close(topic)

	snap, err := poll.Wait(ctx, opts,
		func(fctx context.Context) (*platform.CommandSnapshot, error) {
			statusPollsTotal.WithLabelValues(kind).Inc()
			s, ferr := r.client.CommandStatus(fctx, cmd.ClusterID, cmd.ContextID, cmd.ID)
			if ferr == nil {
				r.broker.Publish(topic, StatusEvent{
					Kind:  model.KindCommand,
					ID:    cmd.ID,
					State: s.Status,
					At:    time.Now().UTC(),
				})
			}
			return s, ferr
		},
		func(s *platform.CommandSnapshot) bool { return model.CommandTerminal(s.Status) },
	)
	if err != nil {
		if errors.Is(err, poll.ErrAborted) && platform.IsNotFound(err) {
			// The context (or the command with it) is gone. Record the
			// synthesized terminal result so the command never stays pending.
			cmd.State = model.CommandError
			cmd.Result = &model.CommandResult{
				Outcome: model.OutcomeError,
				Message: "execution context lost",
			}
			observeWait(kind, "context_lost", start)
			return nil, fmt.Errorf("%w: %w", ErrContextLost, err)
		}
		observeWait(kind, waitErrorLabel(err), start)
		return nil, err
	}

	cmd.State = snap.Status
	if cmd.Result == nil {
		cmd.Result = decodeCommandResult(snap)
	}
	observeWait(kind, cmd.Result.Outcome, start)
	return cmd.Result, nil
}

// Cancel requests cancellation of a command best-effort. A command that
// completed concurrently keeps its recorded result; cancel never overwrites
// a terminal state already recorded locally.
func (r *Commands) Cancel(ctx context.Context, cmd *model.CommandExecution) error {
	if cmd.Result != nil {
		return nil
	}

	err := r.client.CancelCommand(ctx, cmd.ClusterID, cmd.ContextID, cmd.ID)
	if err != nil && !platform.IsNotFound(err) {
		return err
	}
	return nil
}

// RunOnce executes a single piece of code in an ephemeral context: create,
// submit, await, destroy. Context destruction is attempted exactly once on
// every exit path, including submit and await failures.
func (r *Commands) RunOnce(ctx context.Context, clusterID, code, language string, opts poll.Options) (*model.CommandResult, error) {
	ec, err := r.contexts.Create(ctx, clusterID, language, opts)
	if err != nil {
		return nil, err
	}
	defer r.contexts.Destroy(context.WithoutCancel(ctx), ec)

	cmd, err := r.Submit(ctx, ec, code, language)
	if err != nil {
		return nil, err
	}

	return r.Await(ctx, cmd, opts)
}

// decodeCommandResult maps a terminal command snapshot to a result. The
// platform reports "the command ran" and "the command's result was an
// error" separately: a Finished command whose results block carries
// resultType "error" is still a failed execution.
func decodeCommandResult(snap *platform.CommandSnapshot) *model.CommandResult {
	switch snap.Status {
	case model.CommandFinished:
		if snap.Results != nil && snap.Results.ResultType == resultTypeError {
			return &model.CommandResult{
				Outcome: model.OutcomeError,
				Message: commandFailureMessage(snap.Results),
			}
		}
		res := &model.CommandResult{Outcome: model.OutcomeOK}
		if snap.Results != nil {
			res.Data = snap.Results.Data
		}
		return res
	case model.CommandCancelled:
		return &model.CommandResult{Outcome: model.OutcomeCancelled}
	default:
		res := &model.CommandResult{Outcome: model.OutcomeError}
		if snap.Results != nil {
			res.Message = commandFailureMessage(snap.Results)
		}
		if res.Message == "" {
			res.Message = "command failed"
		}
		return res
	}
}

func commandFailureMessage(results *platform.CommandResults) string {
	if results.Cause != "" {
		return results.Cause
	}
	return results.Summary
}

// waitErrorLabel maps a poll error to a metrics outcome label.
func waitErrorLabel(err error) string {
	switch {
	case errors.Is(err, poll.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, poll.ErrCancelled):
		return "cancelled_wait"
	case errors.Is(err, poll.ErrExhausted):
		return "poll_exhausted"
	case errors.Is(err, poll.ErrAborted):
		return "poll_aborted"
	default:
		return "error"
	}
}
