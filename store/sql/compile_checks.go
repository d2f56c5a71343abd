package sqlstore

import "github.com/goliatone/go-charter-sync/core"

var (
	_ core.WebhookEventStore      = (*WebhookEventStore)(nil)
	_ core.RequestStore           = (*RequestStore)(nil)
	_ core.QuoteStore             = (*QuoteStore)(nil)
	_ core.OperatorStore          = (*OperatorStore)(nil)
	_ core.ConversationStore      = (*ConversationStore)(nil)
	_ core.WorkflowStore          = (*WorkflowStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
