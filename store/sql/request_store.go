package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-charter-sync/core"
)

type RequestStore struct {
	db   *bun.DB
	repo repository.Repository[*requestRecord]
}

func NewRequestStore(db *bun.DB) (*RequestStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*requestRecord](db, requestHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid request repository wiring: %w", err)
		}
	}
	return &RequestStore{db: db, repo: repo}, nil
}

func (s *RequestStore) Create(ctx context.Context, in core.CreateRequestInput) (core.Request, error) {
	if s == nil || s.repo == nil {
		return core.Request{}, fmt.Errorf("sqlstore: request store is not configured")
	}
	status := in.Status
	if status == "" {
		status = core.RequestStatusDraft
	}
	if !status.Valid() {
		return core.Request{}, core.BadInputError("unknown request status", map[string]any{"status": string(status)})
	}
	now := time.Now().UTC()
	created, err := s.repo.Create(ctx, &requestRecord{
		ID:                 uuid.NewString(),
		AgentID:            strings.TrimSpace(in.AgentID),
		TripID:             strings.TrimSpace(in.TripID),
		RFQID:              strings.TrimSpace(in.RFQID),
		Status:             string(status),
		OperatorsContacted: in.OperatorsContacted,
		QuotesExpected:     in.QuotesExpected,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return core.Request{}, err
	}
	return created.toDomain(), nil
}

func (s *RequestStore) Get(ctx context.Context, id string) (core.Request, error) {
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, db bun.IDB, id string) (core.Request, error) {
	if db == nil {
		return core.Request{}, fmt.Errorf("sqlstore: request store is not configured")
	}
	record := &requestRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Request{}, notFound(err)
	}
	return record.toDomain(), nil
}

// FindByTripRef returns the newest request matching either marketplace id.
func (s *RequestStore) FindByTripRef(ctx context.Context, tripID string, rfqID string) (core.Request, error) {
	if s == nil || s.db == nil {
		return core.Request{}, fmt.Errorf("sqlstore: request store is not configured")
	}
	tripID = strings.TrimSpace(tripID)
	rfqID = strings.TrimSpace(rfqID)
	if tripID == "" && rfqID == "" {
		return core.Request{}, core.ErrNotFound
	}
	record := &requestRecord{}
	err := s.db.NewSelect().
		Model(record).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			if tripID != "" {
				q = q.WhereOr("?TableAlias.trip_id = ?", tripID)
			}
			if rfqID != "" {
				q = q.WhereOr("?TableAlias.rfq_id = ?", rfqID)
			}
			return q
		}).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Request{}, notFound(err)
	}
	return record.toDomain(), nil
}

// RaiseQuotesReceived only ever moves the counter upwards.
func (s *RequestStore) RaiseQuotesReceived(ctx context.Context, id string, count int) (core.Request, error) {
	if s == nil || s.db == nil {
		return core.Request{}, fmt.Errorf("sqlstore: request store is not configured")
	}
	id = strings.TrimSpace(id)
	_, err := s.db.NewUpdate().
		Model((*requestRecord)(nil)).
		Set("quotes_received = ?", count).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("quotes_received < ?", count).
		Exec(ctx)
	if err != nil {
		return core.Request{}, err
	}
	return s.Get(ctx, id)
}
