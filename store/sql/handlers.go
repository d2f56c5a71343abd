package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func webhookEventHandlers() repository.ModelHandlers[*webhookEventRecord] {
	return repository.ModelHandlers[*webhookEventRecord]{
		NewRecord: func() *webhookEventRecord {
			return &webhookEventRecord{}
		},
		GetID: func(record *webhookEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *webhookEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *webhookEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func requestHandlers() repository.ModelHandlers[*requestRecord] {
	return repository.ModelHandlers[*requestRecord]{
		NewRecord: func() *requestRecord {
			return &requestRecord{}
		},
		GetID: func(record *requestRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *requestRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *requestRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func quoteHandlers() repository.ModelHandlers[*quoteRecord] {
	return repository.ModelHandlers[*quoteRecord]{
		NewRecord: func() *quoteRecord {
			return &quoteRecord{}
		},
		GetID: func(record *quoteRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *quoteRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "external_quote_id"
		},
		GetIdentifierValue: func(record *quoteRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ExternalQuoteID)
		},
	}
}

func operatorHandlers() repository.ModelHandlers[*operatorRecord] {
	return repository.ModelHandlers[*operatorRecord]{
		NewRecord: func() *operatorRecord {
			return &operatorRecord{}
		},
		GetID: func(record *operatorRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *operatorRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "external_operator_id"
		},
		GetIdentifierValue: func(record *operatorRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ExternalOperatorID)
		},
	}
}

func conversationHandlers() repository.ModelHandlers[*conversationRecord] {
	return repository.ModelHandlers[*conversationRecord]{
		NewRecord: func() *conversationRecord {
			return &conversationRecord{}
		},
		GetID: func(record *conversationRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *conversationRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *conversationRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func workflowHistoryHandlers() repository.ModelHandlers[*workflowHistoryRecord] {
	return repository.ModelHandlers[*workflowHistoryRecord]{
		NewRecord: func() *workflowHistoryRecord {
			return &workflowHistoryRecord{}
		},
		GetID: func(record *workflowHistoryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *workflowHistoryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *workflowHistoryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
