package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	chartercommand "github.com/goliatone/go-charter-sync/command"
	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/worker"
)

type okMessage struct{}

func (okMessage) Type() string { return "charter.test.ok" }

type untypedMessage struct{}

func (untypedMessage) Type() string { return "" }

type rejectedMessage struct{}

func (rejectedMessage) Type() string { return "charter.test.rejected" }

func (rejectedMessage) Validate() error { return errors.New("invalid payload") }

type lookupMessage struct {
	ID string
}

func (lookupMessage) Type() string { return "charter.test.lookup" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(untypedMessage{}); err == nil {
		t.Fatalf("expected empty type to fail")
	}
	if err := ValidateMessageContract(rejectedMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to surface")
	}
}

type countingEvents struct {
	processed []string
}

func (s *countingEvents) ProcessEvent(_ context.Context, eventID string) (worker.Report, error) {
	s.processed = append(s.processed, eventID)
	return worker.Report{EventID: eventID, Outcome: worker.OutcomeCompleted}, nil
}

func (s *countingEvents) Replay(_ context.Context, eventID string, _ string, _ string) (core.WebhookEvent, error) {
	return core.WebhookEvent{ID: eventID, Status: core.EventStatusPending}, nil
}

func TestBusDispatchesRegisteredCommand(t *testing.T) {
	bus := NewBus(command.NewRegistry())
	defer bus.Close()
	events := &countingEvents{}

	if err := RegisterCommand(bus, chartercommand.NewProcessEventCommand(events)); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := Dispatch(context.Background(), chartercommand.ProcessEventMessage{EventID: "evt_1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(events.processed) != 1 || events.processed[0] != "evt_1" {
		t.Fatalf("expected one processed event, got %v", events.processed)
	}
	if err := Dispatch(context.Background(), chartercommand.ProcessEventMessage{}); err == nil {
		t.Fatalf("expected invalid message to be rejected before dispatch")
	}
}

func TestBusDispatchesRegisteredQuery(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	qry := command.QueryFunc[lookupMessage, string](func(_ context.Context, msg lookupMessage) (string, error) {
		return "found:" + msg.ID, nil
	})
	if err := RegisterQuery(bus, qry); err != nil {
		t.Fatalf("register query: %v", err)
	}
	got, err := Query[lookupMessage, string](context.Background(), lookupMessage{ID: "r1"})
	if err != nil || got != "found:r1" {
		t.Fatalf("unexpected query result %q %v", got, err)
	}
}

func TestBusMirrorsCommandsIntoQueueRegistry(t *testing.T) {
	bus := NewBus(command.NewRegistry())
	defer bus.Close()
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := bus.MirrorToQueue("queue", queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}
	if err := RegisterCommand(bus, chartercommand.NewProcessEventCommand(&countingEvents{})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, ok := queueRegistry.Get(chartercommand.TypeProcessEvent); !ok {
		t.Fatalf("expected process command to be mirrored into the queue registry")
	}
	if err := bus.MirrorToQueue("queue", nil); err == nil {
		t.Fatalf("expected nil queue registry to be rejected")
	}
}

func TestNilBusIsRejected(t *testing.T) {
	var bus *Bus
	if err := bus.Initialize(); err == nil {
		t.Fatalf("expected nil bus error")
	}
	if err := RegisterCommand[chartercommand.ProcessEventMessage](bus, nil); err == nil {
		t.Fatalf("expected nil bus error on register")
	}
	bus.Close()
}
