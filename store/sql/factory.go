package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-charter-sync/core"
)

type RepositoryFactory struct {
	db *bun.DB

	webhookEventStore *WebhookEventStore
	requestStore      *RequestStore
	quoteStore        *QuoteStore
	operatorStore     *OperatorStore
	conversationStore *ConversationStore
	workflowStore     *WorkflowStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.webhookEventStore != nil && f.workflowStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) WebhookEventStore() core.WebhookEventStore {
	if f == nil {
		return nil
	}
	return f.webhookEventStore
}

func (f *RepositoryFactory) RequestStore() core.RequestStore {
	if f == nil {
		return nil
	}
	return f.requestStore
}

func (f *RepositoryFactory) QuoteStore() core.QuoteStore {
	if f == nil {
		return nil
	}
	return f.quoteStore
}

func (f *RepositoryFactory) OperatorStore() core.OperatorStore {
	if f == nil {
		return nil
	}
	return f.operatorStore
}

func (f *RepositoryFactory) ConversationStore() core.ConversationStore {
	if f == nil {
		return nil
	}
	return f.conversationStore
}

func (f *RepositoryFactory) WorkflowStore() core.WorkflowStore {
	if f == nil {
		return nil
	}
	return f.workflowStore
}

func (f *RepositoryFactory) initStores() error {
	webhookEventStore, err := NewWebhookEventStore(f.db)
	if err != nil {
		return err
	}
	requestStore, err := NewRequestStore(f.db)
	if err != nil {
		return err
	}
	quoteStore, err := NewQuoteStore(f.db)
	if err != nil {
		return err
	}
	operatorStore, err := NewOperatorStore(f.db)
	if err != nil {
		return err
	}
	conversationStore, err := NewConversationStore(f.db)
	if err != nil {
		return err
	}
	workflowStore, err := NewWorkflowStore(f.db)
	if err != nil {
		return err
	}

	f.webhookEventStore = webhookEventStore
	f.requestStore = requestStore
	f.quoteStore = quoteStore
	f.operatorStore = operatorStore
	f.conversationStore = conversationStore
	f.workflowStore = workflowStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
