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

// ConversationStore keeps one conversation per (request, type). Concurrent
// creators converge on the unique index instead of an application lock.
type ConversationStore struct {
	db   *bun.DB
	repo repository.Repository[*conversationRecord]
}

func NewConversationStore(db *bun.DB) (*ConversationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*conversationRecord](db, conversationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid conversation repository wiring: %w", err)
		}
	}
	return &ConversationStore{db: db, repo: repo}, nil
}

func (s *ConversationStore) GetOrCreate(ctx context.Context, requestID string, kind core.ConversationType) (core.Conversation, error) {
	if s == nil || s.db == nil {
		return core.Conversation{}, fmt.Errorf("sqlstore: conversation store is not configured")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || !kind.Valid() {
		return core.Conversation{}, core.BadInputError("request id and a valid conversation type are required", nil)
	}
	now := time.Now().UTC()
	record := &conversationRecord{
		ID:               uuid.NewString(),
		RequestID:        requestID,
		ConversationType: string(kind),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (request_id, conversation_type) DO NOTHING").
		Exec(ctx); err != nil {
		return core.Conversation{}, err
	}

	existing := &conversationRecord{}
	err := s.db.NewSelect().
		Model(existing).
		Where("?TableAlias.request_id = ?", requestID).
		Where("?TableAlias.conversation_type = ?", string(kind)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Conversation{}, notFound(err)
	}
	return existing.toDomain(), nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (core.Conversation, error) {
	if s == nil || s.db == nil {
		return core.Conversation{}, fmt.Errorf("sqlstore: conversation store is not configured")
	}
	return getConversation(ctx, s.db, id)
}

func getConversation(ctx context.Context, db bun.IDB, id string) (core.Conversation, error) {
	record := &conversationRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Conversation{}, notFound(err)
	}
	return record.toDomain(), nil
}

func (s *ConversationStore) ListByRequest(ctx context.Context, requestID string) ([]core.Conversation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: conversation store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("request_id", "=", strings.TrimSpace(requestID)),
		repository.OrderBy("conversation_type ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Conversation, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConversationStore) EnsureParticipant(
	ctx context.Context,
	conversationID string,
	role core.SenderKind,
	ref string,
) (core.ConversationParticipant, error) {
	if s == nil || s.db == nil {
		return core.ConversationParticipant{}, fmt.Errorf("sqlstore: conversation store is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	ref = strings.TrimSpace(ref)
	if _, ok := core.ParseSenderKind(string(role)); !ok || ref == "" {
		return core.ConversationParticipant{}, core.BadInputError("participant role and ref are required", nil)
	}
	if _, err := getConversation(ctx, s.db, conversationID); err != nil {
		return core.ConversationParticipant{}, err
	}
	record := &participantRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           string(role),
		ParticipantRef: ref,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (conversation_id, role, participant_ref) DO NOTHING").
		Exec(ctx); err != nil {
		return core.ConversationParticipant{}, err
	}
	existing := &participantRecord{}
	err := s.db.NewSelect().
		Model(existing).
		Where("?TableAlias.conversation_id = ?", conversationID).
		Where("?TableAlias.role = ?", string(role)).
		Where("?TableAlias.participant_ref = ?", ref).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.ConversationParticipant{}, notFound(err)
	}
	return existing.toDomain(), nil
}

func (s *ConversationStore) ListParticipants(ctx context.Context, conversationID string) ([]core.ConversationParticipant, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: conversation store is not configured")
	}
	records := []*participantRecord{}
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.conversation_id = ?", strings.TrimSpace(conversationID)).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.ConversationParticipant, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// AppendMessage inserts a message once per external id, threads it under its
// parent and bumps the unread counters of every participant but the sender.
func (s *ConversationStore) AppendMessage(ctx context.Context, in core.AppendMessageInput) (core.AppendMessageResult, error) {
	if s == nil || s.db == nil {
		return core.AppendMessageResult{}, fmt.Errorf("sqlstore: conversation store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.AppendMessageResult{}, core.BadInputError(err.Error(), nil)
	}
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	externalID := strings.TrimSpace(in.ExternalMessageID)

	var result core.AppendMessageResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := getConversation(ctx, tx, in.ConversationID); err != nil {
			return err
		}
		if externalID != "" {
			existing, err := findMessageByExternalID(ctx, tx, in.ConversationID, externalID)
			if err == nil {
				result = core.AppendMessageResult{Message: existing}
				return nil
			}
			if !errors.Is(err, core.ErrNotFound) {
				return err
			}
		}

		now := time.Now().UTC()
		sentAt := in.SentAt.UTC()
		if in.SentAt.IsZero() {
			sentAt = now
		}
		record := &messageRecord{
			ID:             uuid.NewString(),
			ConversationID: in.ConversationID,
			SenderType:     string(in.Sender.Kind()),
			SenderID:       in.Sender.Ref(),
			Content:        in.Content,
			ContentType:    string(core.ContentTypeText),
			RichPayload:    in.RichPayload,
			SentAt:         sentAt,
			CreatedAt:      now,
		}
		if externalID != "" {
			record.ExternalMessageID = &externalID
		}
		if len(in.RichPayload) > 0 {
			record.ContentType = string(core.ContentTypeRich)
		}
		if parentRef := strings.TrimSpace(in.ParentExternalMessageID); parentRef != "" {
			parent, err := findMessageByExternalID(ctx, tx, in.ConversationID, parentRef)
			switch {
			case err == nil:
				record.ParentMessageID = parent.ID
				record.ThreadRootID = parent.ThreadRootID
				if record.ThreadRootID == "" {
					record.ThreadRootID = parent.ID
				}
			case !errors.Is(err, core.ErrNotFound):
				return err
			}
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}

		if _, err := tx.NewUpdate().
			Model((*conversationRecord)(nil)).
			Set("message_count = message_count + 1").
			Set("updated_at = ?", now).
			Where("id = ?", in.ConversationID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*conversationRecord)(nil)).
			Set("last_message_id = ?", record.ID).
			Set("last_message_at = ?", sentAt).
			Where("id = ?", in.ConversationID).
			WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
				return q.Where("last_message_at IS NULL").WhereOr("last_message_at <= ?", sentAt)
			}).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*participantRecord)(nil)).
			Set("unread_count = unread_count + 1").
			Where("conversation_id = ?", in.ConversationID).
			Where("NOT (role = ? AND participant_ref = ?)", string(in.Sender.Kind()), in.Sender.Ref()).
			Exec(ctx); err != nil {
			return err
		}

		message, err := record.toDomain()
		if err != nil {
			return err
		}
		result = core.AppendMessageResult{Message: message, Created: true}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) && externalID != "" {
			existing, getErr := findMessageByExternalID(ctx, s.db, in.ConversationID, externalID)
			if getErr != nil {
				return core.AppendMessageResult{}, getErr
			}
			return core.AppendMessageResult{Message: existing}, nil
		}
		return core.AppendMessageResult{}, err
	}
	return result, nil
}

func findMessageByExternalID(ctx context.Context, db bun.IDB, conversationID string, externalID string) (core.Message, error) {
	record := &messageRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.conversation_id = ?", conversationID).
		Where("?TableAlias.external_message_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Message{}, notFound(err)
	}
	return record.toDomain()
}

// ListMessages returns messages in sent order; a positive limit keeps the
// most recent ones.
func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: conversation store is not configured")
	}
	records := []*messageRecord{}
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.conversation_id = ?", strings.TrimSpace(conversationID)).
		OrderExpr("?TableAlias.sent_at DESC, ?TableAlias.created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Message, len(records))
	for idx, record := range records {
		message, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out[len(records)-1-idx] = message
	}
	return out, nil
}

func (s *ConversationStore) MarkRead(
	ctx context.Context,
	conversationID string,
	role core.SenderKind,
	ref string,
	messageID string,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: conversation store is not configured")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*participantRecord)(nil)).
		Set("unread_count = 0").
		Set("last_read_message_id = ?", strings.TrimSpace(messageID)).
		Set("last_read_at = ?", now).
		Where("conversation_id = ?", strings.TrimSpace(conversationID)).
		Where("role = ?", string(role)).
		Where("participant_ref = ?", strings.TrimSpace(ref)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrNotFound
	}
	return nil
}
