package chartersync

import (
	"fmt"

	"github.com/goliatone/go-charter-sync/adapters/gocommand"
	"github.com/goliatone/go-charter-sync/command"
	"github.com/goliatone/go-charter-sync/query"
)

// Commands are the go-command handlers for operator actions.
type Commands struct {
	ProcessEvent      *command.ProcessEventCommand
	ReplayEvent       *command.ReplayEventCommand
	TransitionRequest *command.TransitionRequestCommand
}

// Queries are the go-command read handlers over the stores.
type Queries struct {
	ListEvents         *query.ListEventsQuery
	GetConversation    *query.GetConversationQuery
	GetRequestWorkflow *query.GetRequestWorkflowQuery
}

type Facade struct {
	service  *Service
	commands Commands
	queries  Queries
}

func NewFacade(service *Service) *Facade {
	if service == nil {
		return &Facade{}
	}
	stores := service.Stores()
	return &Facade{
		service: service,
		commands: Commands{
			ProcessEvent:      command.NewProcessEventCommand(service),
			ReplayEvent:       command.NewReplayEventCommand(service),
			TransitionRequest: command.NewTransitionRequestCommand(service),
		},
		queries: Queries{
			ListEvents:         query.NewListEventsQuery(stores.WebhookEventStore()),
			GetConversation:    query.NewGetConversationQuery(stores.ConversationStore()),
			GetRequestWorkflow: query.NewGetRequestWorkflowQuery(stores.RequestStore(), stores.WorkflowStore()),
		},
	}
}

func (f *Facade) Service() *Service { return f.service }

func (f *Facade) Commands() Commands { return f.commands }

func (f *Facade) Queries() Queries { return f.queries }

// Register subscribes every command and query on bus so callers can use
// gocommand.Dispatch and gocommand.Query with the message types.
func (f *Facade) Register(bus *gocommand.Bus) error {
	if f == nil || f.service == nil {
		return fmt.Errorf("chartersync: facade has no service")
	}
	if err := gocommand.RegisterCommand(bus, f.commands.ProcessEvent); err != nil {
		return err
	}
	if err := gocommand.RegisterCommand(bus, f.commands.ReplayEvent); err != nil {
		return err
	}
	if err := gocommand.RegisterCommand(bus, f.commands.TransitionRequest); err != nil {
		return err
	}
	if err := gocommand.RegisterQuery(bus, f.queries.ListEvents); err != nil {
		return err
	}
	if err := gocommand.RegisterQuery(bus, f.queries.GetConversation); err != nil {
		return err
	}
	return gocommand.RegisterQuery(bus, f.queries.GetRequestWorkflow)
}
