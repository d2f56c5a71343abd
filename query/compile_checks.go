package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-charter-sync/core"
)

var (
	_ gocmd.Querier[ListEventsMessage, []core.WebhookEvent]              = (*ListEventsQuery)(nil)
	_ gocmd.Querier[GetConversationMessage, core.ConversationView]       = (*GetConversationQuery)(nil)
	_ gocmd.Querier[GetRequestWorkflowMessage, core.RequestWorkflowView] = (*GetRequestWorkflowQuery)(nil)

	_ ConversationReader = (core.ConversationStore)(nil)
	_ WorkflowReader     = (core.WorkflowStore)(nil)
	_ RequestReader      = (core.RequestStore)(nil)
	_ EventLister        = (core.WebhookEventStore)(nil)
)
