package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/poll"
)

// Statements submits SQL statements to warehouses and awaits completion.
// Unlike commands, statements need no execution context.
type Statements struct {
	client      *platform.Client
	warehouseID string
	logger      *slog.Logger
	broker      *Broker
}

// Submit sends a SQL statement to a warehouse. When the request names no
// warehouse the configured default is used; with neither, the submission is
// rejected with ErrNoWarehouse. Fast statements may come back already
// terminal, in which case the result is recorded immediately and a later
// Await returns without polling.
func (r *Statements) Submit(ctx context.Context, req platform.StatementRequest) (*model.StatementExecution, error) {
	if req.WarehouseID == "" {
		req.WarehouseID = r.warehouseID
	}
	if req.WarehouseID == "" {
		return nil, ErrNoWarehouse
	}

	snap, err := r.client.SubmitStatement(ctx, req)
	if err != nil {
		return nil, err
	}

	st := &model.StatementExecution{
		ID:          snap.StatementID,
		WarehouseID: req.WarehouseID,
		State:       snap.Status.State,
	}
	if model.StatementTerminal(st.State) {
		st.Result = decodeStatementResult(snap)
	}

	r.logger.Debug("statement submitted",
		"warehouse_id", req.WarehouseID, "statement_id", st.ID, "state", st.State)

	return st, nil
}

// Await polls the statement until it reaches a terminal state. On success
// the result carries the first page of rows plus a continuation token when
// more pages remain; pages are never auto-followed because result sets can
// be large and the caller may want to stream. Results are write-once.
func (r *Statements) Await(ctx context.Context, st *model.StatementExecution, opts poll.Options) (*model.StatementResult, error) {
	if st.Result != nil {
		return st.Result, nil
	}

	kind := string(model.KindStatement)
	topic := Topic(model.KindStatement, st.ID)
	start := time.Now()
	defer r.broker.Close(topic)

	snap, err := poll.Wait(ctx, opts,
		func(fctx context.Context) (*platform.StatementSnapshot, error) {
			statusPollsTotal.WithLabelValues(kind).Inc()
			s, ferr := r.client.StatementStatus(fctx, st.ID)
			if ferr == nil {
				r.broker.Publish(topic, StatusEvent{
					Kind:  model.KindStatement,
					ID:    st.ID,
					State: s.Status.State,
					At:    time.Now().UTC(),
				})
			}
			return s, ferr
		},
		func(s *platform.StatementSnapshot) bool { return model.StatementTerminal(s.Status.State) },
	)
	if err != nil {
		observeWait(kind, waitErrorLabel(err), start)
		return nil, err
	}

	st.State = snap.Status.State
	if st.Result == nil {
		st.Result = decodeStatementResult(snap)
	}
	observeWait(kind, st.Result.Outcome, start)
	return st.Result, nil
}

// NextPage fetches one further page of a statement's results using the token
// returned alongside the previous page.
func (r *Statements) NextPage(ctx context.Context, statementID, token string) (*model.ResultPage, error) {
	chunkIndex, err := strconv.Atoi(token)
	if err != nil || chunkIndex < 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadPageToken, token)
	}

	data, err := r.client.StatementResultChunk(ctx, statementID, chunkIndex)
	if err != nil {
		return nil, err
	}

	page := &model.ResultPage{Rows: data.DataArray}
	if data.NextChunkIndex != nil {
		page.NextPageToken = strconv.Itoa(*data.NextChunkIndex)
	}
	return page, nil
}

// Cancel requests cancellation of a statement best-effort. A statement that
// already finished keeps its recorded result.
func (r *Statements) Cancel(ctx context.Context, st *model.StatementExecution) error {
	if st.Result != nil {
		return nil
	}

	err := r.client.CancelStatement(ctx, st.ID)
	if err != nil && !platform.IsNotFound(err) {
		return err
	}
	return nil
}

// decodeStatementResult maps a terminal statement snapshot to a result.
func decodeStatementResult(snap *platform.StatementSnapshot) *model.StatementResult {
	switch snap.Status.State {
	case model.StatementSucceeded:
		return &model.StatementResult{
			Outcome: model.OutcomeOK,
			Page:    firstPage(snap),
		}
	case model.StatementCanceled:
		return &model.StatementResult{Outcome: model.OutcomeCancelled}
	default:
		res := &model.StatementResult{Outcome: model.OutcomeError}
		if snap.Status.Error != nil {
			res.Message = snap.Status.Error.Message
		}
		if res.Message == "" {
			res.Message = "statement " + snap.Status.State
		}
		return res
	}
}

// firstPage builds the first result page from a succeeded snapshot.
func firstPage(snap *platform.StatementSnapshot) *model.ResultPage {
	page := &model.ResultPage{}
	if snap.Manifest != nil {
		for _, col := range snap.Manifest.Schema.Columns {
			page.Columns = append(page.Columns, model.ColumnInfo{
				Name:     col.Name,
				TypeName: col.TypeName,
				Position: col.Position,
			})
		}
	}
	if snap.Result != nil {
		page.Rows = snap.Result.DataArray
		if snap.Result.NextChunkIndex != nil {
			page.NextPageToken = strconv.Itoa(*snap.Result.NextChunkIndex)
		}
	}
	return page
}
