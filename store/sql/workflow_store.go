package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-charter-sync/core"
)

// WorkflowStore writes the request status, the workflow head and a history row
// in one transaction guarded by a compare-and-set on the request status.
type WorkflowStore struct {
	db          *bun.DB
	historyRepo repository.Repository[*workflowHistoryRecord]
}

func NewWorkflowStore(db *bun.DB) (*WorkflowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*workflowHistoryRecord](db, workflowHistoryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid workflow history repository wiring: %w", err)
		}
	}
	return &WorkflowStore{db: db, historyRepo: repo}, nil
}

func (s *WorkflowStore) GetState(ctx context.Context, requestID string) (core.WorkflowState, error) {
	if s == nil || s.db == nil {
		return core.WorkflowState{}, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	state, err := loadWorkflowState(ctx, s.db, strings.TrimSpace(requestID))
	if err != nil {
		return core.WorkflowState{}, notFound(err)
	}
	return state.toDomain(), nil
}

func loadWorkflowState(ctx context.Context, db bun.IDB, requestID string) (*workflowStateRecord, error) {
	record := &workflowStateRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.request_id = ?", requestID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *WorkflowStore) ApplyTransition(ctx context.Context, record core.TransitionRecord) (core.WorkflowHistory, error) {
	if s == nil || s.db == nil || s.historyRepo == nil {
		return core.WorkflowHistory{}, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	requestID := strings.TrimSpace(record.RequestID)
	at := record.At.UTC()
	if record.At.IsZero() {
		at = time.Now().UTC()
	}

	var entry core.WorkflowHistory
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		request, err := getRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		swapped, err := tx.NewUpdate().
			Model((*requestRecord)(nil)).
			Set("status = ?", string(record.To)).
			Set("updated_at = ?", at).
			Where("id = ?", requestID).
			Where("status = ?", string(record.From)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if rows, rowsErr := swapped.RowsAffected(); rowsErr != nil {
			return rowsErr
		} else if rows == 0 {
			return core.ErrStatusConflict
		}

		head := &workflowStateRecord{
			RequestID:     requestID,
			CurrentState:  string(record.To),
			PreviousState: string(record.From),
			Source:        record.Source,
			AgentID:       record.AgentID,
			EnteredAt:     at,
			UpdatedAt:     at,
		}
		enteredAt := request.CreatedAt
		previous, err := loadWorkflowState(ctx, tx, requestID)
		switch {
		case err == nil:
			enteredAt = previous.EnteredAt
			if _, err := tx.NewUpdate().
				Model(head).
				Column("current_state", "previous_state", "source", "agent_id", "entered_at", "updated_at").
				WherePK().
				Exec(ctx); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.NewInsert().Model(head).Exec(ctx); err != nil {
				return err
			}
		default:
			return err
		}

		history := &workflowHistoryRecord{
			ID:              uuid.NewString(),
			RequestID:       requestID,
			FromState:       string(record.From),
			ToState:         string(record.To),
			Source:          record.Source,
			AgentID:         record.AgentID,
			EventID:         record.EventID,
			Reason:          record.Reason,
			StateDurationMS: stateDuration(enteredAt, at),
			CreatedAt:       at,
		}
		created, err := s.historyRepo.CreateTx(ctx, tx, history)
		if err != nil {
			return err
		}
		entry = created.toDomain()
		return nil
	})
	if err != nil {
		return core.WorkflowHistory{}, err
	}
	return entry, nil
}

func (s *WorkflowStore) ListHistory(ctx context.Context, requestID string) ([]core.WorkflowHistory, error) {
	if s == nil || s.historyRepo == nil {
		return nil, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	records, _, err := s.historyRepo.List(ctx,
		repository.SelectBy("request_id", "=", strings.TrimSpace(requestID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.WorkflowHistory, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func stateDuration(enteredAt time.Time, at time.Time) int64 {
	if enteredAt.IsZero() || at.Before(enteredAt) {
		return 0
	}
	return at.Sub(enteredAt).Milliseconds()
}
