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

// upsertAttempts bounds the retry after two workers race to insert the same
// external quote id.
const upsertAttempts = 2

type QuoteStore struct {
	db   *bun.DB
	repo repository.Repository[*quoteRecord]
}

func NewQuoteStore(db *bun.DB) (*QuoteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*quoteRecord](db, quoteHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid quote repository wiring: %w", err)
		}
	}
	return &QuoteStore{db: db, repo: repo}, nil
}

// Upsert inserts a first-seen quote and bumps the request counter, or
// classifies the update against the stored quote and writes a revision.
func (s *QuoteStore) Upsert(ctx context.Context, in core.UpsertQuoteInput) (core.UpsertQuoteResult, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.UpsertQuoteResult{}, fmt.Errorf("sqlstore: quote store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.UpsertQuoteResult{}, core.BadInputError(err.Error(), nil)
	}
	in.ExternalQuoteID = strings.TrimSpace(in.ExternalQuoteID)

	var (
		result core.UpsertQuoteResult
		err    error
	)
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		result, err = s.upsertOnce(ctx, in)
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	return result, err
}

func (s *QuoteStore) upsertOnce(ctx context.Context, in core.UpsertQuoteInput) (core.UpsertQuoteResult, error) {
	var result core.UpsertQuoteResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		existing := &quoteRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.external_quote_id = ?", in.ExternalQuoteID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			created, createErr := s.insertQuote(ctx, tx, in, now)
			if createErr != nil {
				return createErr
			}
			result = core.UpsertQuoteResult{Quote: created, Created: true}
			return nil
		}
		if err != nil {
			return err
		}

		current := existing.toDomain()
		switch core.ClassifyQuoteUpdate(current, in) {
		case core.QuoteUnchanged:
			result = core.UpsertQuoteResult{Quote: current}
			return nil
		case core.QuoteStale:
			revision, found, lookupErr := s.findStaleRevision(ctx, tx, current.ID, in.EventID)
			if lookupErr != nil {
				return lookupErr
			}
			if !found {
				revision, lookupErr = s.insertRevision(ctx, tx, core.NewQuoteRevision(current, in, false, now))
				if lookupErr != nil {
					return lookupErr
				}
			}
			result = core.UpsertQuoteResult{Quote: current, Revision: &revision}
			return nil
		default:
			revision, revisionErr := s.insertRevision(ctx, tx, core.NewQuoteRevision(current, in, true, now))
			if revisionErr != nil {
				return revisionErr
			}
			updated := core.ApplyQuoteUpdate(current, in, now)
			if _, updateErr := tx.NewUpdate().
				Model(quoteRecordFromDomain(updated)).
				Column("currency", "base_price", "taxes", "fees", "total", "valid_from", "valid_until",
					"status", "aircraft_type", "aircraft_tail", "notes", "source_updated_at", "updated_at").
				WherePK().
				Exec(ctx); updateErr != nil {
				return updateErr
			}
			result = core.UpsertQuoteResult{Quote: updated, Revision: &revision}
			return nil
		}
	})
	if err != nil {
		return core.UpsertQuoteResult{}, err
	}
	return result, nil
}

func (s *QuoteStore) insertQuote(ctx context.Context, tx bun.Tx, in core.UpsertQuoteInput, now time.Time) (core.Quote, error) {
	counted, err := tx.NewUpdate().
		Model((*requestRecord)(nil)).
		Set("quotes_received = quotes_received + 1").
		Set("updated_at = ?", now).
		Where("id = ?", strings.TrimSpace(in.RequestID)).
		Exec(ctx)
	if err != nil {
		return core.Quote{}, err
	}
	if rows, rowsErr := counted.RowsAffected(); rowsErr != nil {
		return core.Quote{}, rowsErr
	} else if rows == 0 {
		return core.Quote{}, core.ErrNotFound
	}
	quote := core.NewQuoteFromInput(uuid.NewString(), in, now)
	if _, err := s.repo.CreateTx(ctx, tx, quoteRecordFromDomain(quote)); err != nil {
		return core.Quote{}, err
	}
	return quote, nil
}

// findStaleRevision returns the non-applied revision an earlier delivery of
// eventID already wrote, so replays leave the audit trail as it was.
func (s *QuoteStore) findStaleRevision(ctx context.Context, tx bun.Tx, quoteID string, eventID string) (core.QuoteRevision, bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.QuoteRevision{}, false, nil
	}
	record := &quoteRevisionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.quote_id = ?", quoteID).
		Where("?TableAlias.event_id = ?", eventID).
		Where("?TableAlias.applied = ?", false).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.QuoteRevision{}, false, nil
	}
	if err != nil {
		return core.QuoteRevision{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *QuoteStore) insertRevision(ctx context.Context, tx bun.Tx, revision core.QuoteRevision) (core.QuoteRevision, error) {
	var latest int
	if err := tx.NewSelect().
		Model((*quoteRevisionRecord)(nil)).
		ColumnExpr("COALESCE(MAX(revision_no), 0)").
		Where("?TableAlias.quote_id = ?", revision.QuoteID).
		Scan(ctx, &latest); err != nil {
		return core.QuoteRevision{}, err
	}
	revision.ID = uuid.NewString()
	record := &quoteRevisionRecord{
		ID:             revision.ID,
		QuoteID:        revision.QuoteID,
		RevisionNo:     latest + 1,
		EventID:        revision.EventID,
		PreviousTotal:  revision.PreviousTotal,
		NewTotal:       revision.NewTotal,
		Currency:       revision.Currency,
		PreviousStatus: string(revision.PreviousStatus),
		NewStatus:      string(revision.NewStatus),
		Applied:        revision.Applied,
		RecordedAt:     revision.RecordedAt,
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.QuoteRevision{}, err
	}
	return revision, nil
}

func (s *QuoteStore) GetByExternalID(ctx context.Context, externalQuoteID string) (core.Quote, error) {
	if s == nil || s.db == nil {
		return core.Quote{}, fmt.Errorf("sqlstore: quote store is not configured")
	}
	record := &quoteRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.external_quote_id = ?", strings.TrimSpace(externalQuoteID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Quote{}, notFound(err)
	}
	return record.toDomain(), nil
}

func (s *QuoteStore) ListByRequest(ctx context.Context, requestID string) ([]core.Quote, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: quote store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("request_id", "=", strings.TrimSpace(requestID)),
		repository.OrderBy("external_quote_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Quote, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *QuoteStore) ListRevisions(ctx context.Context, quoteID string) ([]core.QuoteRevision, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: quote store is not configured")
	}
	records := []*quoteRevisionRecord{}
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.quote_id = ?", strings.TrimSpace(quoteID)).
		OrderExpr("?TableAlias.revision_no ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.QuoteRevision, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
