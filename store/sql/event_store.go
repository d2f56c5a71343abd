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

// WebhookEventStore is the SQL event ledger. Dedupe relies on the unique
// (source, external_event_id) index and claims on a conditional update.
type WebhookEventStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func NewWebhookEventStore(db *bun.DB) (*WebhookEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook event repository wiring: %w", err)
		}
	}
	return &WebhookEventStore{db: db, repo: repo}, nil
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

func (s *WebhookEventStore) Record(ctx context.Context, in core.RecordEventInput) (core.WebhookEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, false, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.WebhookEvent{}, false, core.BadInputError(err.Error(), nil)
	}
	in.Source = normalizeSource(in.Source)
	in.ExternalEventID = strings.TrimSpace(in.ExternalEventID)
	in.Kind = strings.TrimSpace(in.Kind)

	record := newWebhookEventRecord(uuid.NewString(), in, time.Now().UTC())
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetByExternalID(ctx, in.Source, in.ExternalEventID)
			if getErr != nil {
				return core.WebhookEvent{}, false, getErr
			}
			return existing, false, nil
		}
		return core.WebhookEvent{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *WebhookEventStore) Get(ctx context.Context, id string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.WebhookEvent{}, notFound(err)
	}
	return record.toDomain(), nil
}

func (s *WebhookEventStore) GetByExternalID(ctx context.Context, source string, externalEventID string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.source = ?", normalizeSource(source)).
		Where("?TableAlias.external_event_id = ?", strings.TrimSpace(externalEventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.WebhookEvent{}, notFound(err)
	}
	return record.toDomain(), nil
}

// Claim moves a pending event to processing. Losing the race, or claiming a
// missing or non-pending event, returns false without an error.
func (s *WebhookEventStore) Claim(ctx context.Context, id string, token string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	claimedAt := now.UTC()
	result, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusProcessing)).
		Set("claimed_at = ?", claimedAt).
		Set("claim_token = ?", token).
		Set("updated_at = ?", claimedAt).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.EventStatusPending)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *WebhookEventStore) Complete(
	ctx context.Context,
	id string,
	linked core.LinkedIDs,
	parsed map[string]any,
	now time.Time,
) error {
	finished := now.UTC()
	record := &webhookEventRecord{
		ID:             strings.TrimSpace(id),
		Status:         string(core.EventStatusCompleted),
		RequestID:      linked.RequestID,
		QuoteID:        linked.QuoteID,
		OperatorID:     linked.OperatorID,
		ConversationID: linked.ConversationID,
		MessageID:      linked.MessageID,
		ParsedData:     parsed,
		ProcessedAt:    &finished,
		UpdatedAt:      finished,
	}
	return s.finishProcessing(ctx, record,
		"status", "request_id", "quote_id", "operator_id", "conversation_id", "message_id",
		"parsed_data", "next_retry_at", "claimed_at", "claim_token", "processed_at", "updated_at",
	)
}

func (s *WebhookEventStore) Skip(ctx context.Context, id string, reason string, parsed map[string]any, now time.Time) error {
	finished := now.UTC()
	details := make(map[string]any, len(parsed)+1)
	for key, value := range parsed {
		details[key] = value
	}
	details["skip_reason"] = reason
	record := &webhookEventRecord{
		ID:          strings.TrimSpace(id),
		Status:      string(core.EventStatusSkipped),
		ParsedData:  details,
		ProcessedAt: &finished,
		UpdatedAt:   finished,
	}
	return s.finishProcessing(ctx, record,
		"status", "parsed_data", "next_retry_at", "claimed_at", "claim_token", "processed_at", "updated_at",
	)
}

func (s *WebhookEventStore) ApplyFailure(ctx context.Context, id string, decision core.FailureDecision, now time.Time) error {
	updated := now.UTC()
	record := &webhookEventRecord{
		ID:           strings.TrimSpace(id),
		Status:       string(decision.Status),
		RetryCount:   decision.RetryCount,
		NextRetryAt:  utcPtr(decision.NextRetryAt),
		ErrorCode:    decision.ErrorCode,
		ErrorMessage: decision.ErrorMessage,
		ErrorStack:   decision.ErrorStack,
		UpdatedAt:    updated,
	}
	columns := []string{
		"status", "retry_count", "next_retry_at", "error_code", "error_message", "error_stack",
		"claimed_at", "claim_token", "updated_at",
	}
	if decision.DeadLetter() {
		record.ProcessedAt = &updated
		columns = append(columns, "processed_at")
	}
	return s.finishProcessing(ctx, record, columns...)
}

// finishProcessing writes columns of record only while the event is still
// processing, so a reclaimed or already finished event is never overwritten.
func (s *WebhookEventStore) finishProcessing(ctx context.Context, record *webhookEventRecord, columns ...string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	if record.ID == "" {
		return core.BadInputError("event id is required", nil)
	}
	result, err := s.db.NewUpdate().
		Model(record).
		Column(columns...).
		WherePK().
		Where("status = ?", string(core.EventStatusProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	if _, err := s.Get(ctx, record.ID); err != nil {
		return err
	}
	return core.ErrEventNotProcessing
}

func (s *WebhookEventStore) FindProcessable(ctx context.Context, now time.Time, limit int) ([]core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	records := []*webhookEventRecord{}
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.EventStatusPending)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.next_retry_at IS NULL").
				WhereOr("?TableAlias.next_retry_at <= ?", now.UTC())
		}).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return eventsToDomain(records), nil
}

func (s *WebhookEventStore) FindExpiredClaims(ctx context.Context, cutoff time.Time, limit int) ([]core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	records := []*webhookEventRecord{}
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.EventStatusProcessing)).
		Where("?TableAlias.claimed_at IS NOT NULL").
		Where("?TableAlias.claimed_at <= ?", cutoff.UTC()).
		OrderExpr("?TableAlias.claimed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return eventsToDomain(records), nil
}

// Replay resets a terminal event to pending and clears its envelope.
func (s *WebhookEventStore) Replay(ctx context.Context, id string, now time.Time) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if !current.Status.Terminal() {
		return core.WebhookEvent{}, core.BadInputError("only terminal events can be replayed", map[string]any{
			"event_id": current.ID,
			"status":   string(current.Status),
		})
	}
	record := &webhookEventRecord{
		ID:        current.ID,
		Status:    string(core.EventStatusPending),
		UpdatedAt: now.UTC(),
	}
	result, err := s.db.NewUpdate().
		Model(record).
		Column("status", "retry_count", "next_retry_at", "claimed_at", "claim_token",
			"error_code", "error_message", "error_stack", "processed_at", "updated_at").
		WherePK().
		Where("status = ?", string(current.Status)).
		Exec(ctx)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr != nil {
		return core.WebhookEvent{}, rowsErr
	} else if rows == 0 {
		return core.WebhookEvent{}, core.ErrStatusConflict
	}
	return s.Get(ctx, current.ID)
}

func (s *WebhookEventStore) List(ctx context.Context, filter core.EventFilter) ([]core.WebhookEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	criteria := []repository.SelectCriteria{}
	if filter.Status != "" {
		criteria = append(criteria, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		criteria = append(criteria, repository.SelectBy("kind", "=", kind))
	}
	if source := normalizeSource(filter.Source); source != "" {
		criteria = append(criteria, repository.SelectBy("source", "=", source))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	criteria = append(criteria,
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, offset),
	)
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	return eventsToDomain(records), nil
}

func eventsToDomain(records []*webhookEventRecord) []core.WebhookEvent {
	out := make([]core.WebhookEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
