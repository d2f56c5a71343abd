package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-charter-sync/core"
)

type OperatorStore struct {
	db   *bun.DB
	repo repository.Repository[*operatorRecord]
}

func NewOperatorStore(db *bun.DB) (*OperatorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*operatorRecord](db, operatorHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid operator repository wiring: %w", err)
		}
	}
	return &OperatorStore{db: db, repo: repo}, nil
}

// Upsert creates the profile on first sight and otherwise fills in changed,
// non-empty contact fields.
func (s *OperatorStore) Upsert(ctx context.Context, in core.UpsertOperatorInput) (core.OperatorProfile, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.OperatorProfile{}, fmt.Errorf("sqlstore: operator store is not configured")
	}
	externalID := strings.TrimSpace(in.ExternalOperatorID)
	if externalID == "" {
		return core.OperatorProfile{}, core.BadInputError("external operator id is required", nil)
	}
	now := time.Now().UTC()

	current, err := s.GetByExternalID(ctx, externalID)
	if errors.Is(err, core.ErrNotFound) {
		record := &operatorRecord{
			ID:                 uuid.NewString(),
			ExternalOperatorID: externalID,
			CompanyName:        strings.TrimSpace(in.CompanyName),
			ContactEmail:       strings.TrimSpace(in.ContactEmail),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if _, createErr := s.db.NewInsert().Model(record).Exec(ctx); createErr != nil {
			if isUniqueViolation(createErr) {
				return s.GetByExternalID(ctx, externalID)
			}
			return core.OperatorProfile{}, createErr
		}
		return record.toDomain(), nil
	}
	if err != nil {
		return core.OperatorProfile{}, err
	}

	changed := false
	if name := strings.TrimSpace(in.CompanyName); name != "" && name != current.CompanyName {
		current.CompanyName = name
		changed = true
	}
	if email := strings.TrimSpace(in.ContactEmail); email != "" && email != current.ContactEmail {
		current.ContactEmail = email
		changed = true
	}
	if !changed {
		return current, nil
	}
	current.UpdatedAt = now
	_, err = s.db.NewUpdate().
		Model((*operatorRecord)(nil)).
		Set("company_name = ?", current.CompanyName).
		Set("contact_email = ?", current.ContactEmail).
		Set("updated_at = ?", now).
		Where("id = ?", current.ID).
		Exec(ctx)
	if err != nil {
		return core.OperatorProfile{}, err
	}
	return current, nil
}

func (s *OperatorStore) GetByExternalID(ctx context.Context, externalOperatorID string) (core.OperatorProfile, error) {
	if s == nil || s.repo == nil {
		return core.OperatorProfile{}, fmt.Errorf("sqlstore: operator store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("external_operator_id", "=", strings.TrimSpace(externalOperatorID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.OperatorProfile{}, err
	}
	if len(records) == 0 {
		return core.OperatorProfile{}, core.ErrNotFound
	}
	return records[0].toDomain(), nil
}
