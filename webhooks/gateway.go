package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/events"
)

type EnvelopeDecoder interface {
	DecodeEnvelope(raw []byte) (events.Envelope, error)
}

type IngestResult struct {
	EventID    string
	Duplicate  bool
	StatusCode int
	Metadata   map[string]any
}

// Gateway accepts one webhook delivery: verify, validate the envelope, then
// record it as pending. Processing happens later through the claim lifecycle.
type Gateway struct {
	Verifier     Verifier
	Decoder      EnvelopeDecoder
	Events       core.WebhookEventStore
	Source       string
	MaxBodyBytes int64
	MaxRetries   int
	Observer     *core.Observer
	Notifier     core.EventNotifier
	Now          core.Clock
}

func NewGateway(verifier Verifier, decoder EnvelopeDecoder, store core.WebhookEventStore, cfg core.Config) *Gateway {
	return &Gateway{
		Verifier:     verifier,
		Decoder:      decoder,
		Events:       store,
		Source:       firstNonEmpty(cfg.Webhooks.Source, core.DefaultEventSource),
		MaxBodyBytes: cfg.Webhooks.MaxBodyBytes,
		MaxRetries:   cfg.Retry.MaxRetries,
		Observer:     core.NewObserver("charter", nil, nil),
	}
}

func (g *Gateway) Ingest(ctx context.Context, req core.InboundRequest) (result IngestResult, err error) {
	if g == nil || g.Decoder == nil || g.Events == nil {
		return IngestResult{}, fmt.Errorf("webhooks: gateway requires decoder and event store")
	}
	startedAt := time.Now()
	source := firstNonEmpty(req.Source, g.Source, core.DefaultEventSource)
	fields := map[string]any{"source": source, "body_bytes": len(req.Body)}
	defer func() {
		fields["outcome"] = ingestOutcome(result, err)
		if result.EventID != "" {
			fields["event_id"] = result.EventID
		}
		g.Observer.ObserveOperation(ctx, startedAt, core.OperationIngest, err, fields)
	}()

	if limit := g.maxBodyBytes(); int64(len(req.Body)) > limit {
		return IngestResult{StatusCode: http.StatusRequestEntityTooLarge}, core.PayloadTooLargeError(limit)
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = g.Now.Now()
	}

	keyVersion := ""
	if g.Verifier != nil {
		keyVersion, err = g.Verifier.Verify(ctx, req)
		if err != nil {
			return IngestResult{StatusCode: http.StatusUnauthorized}, err
		}
	}

	envelope, err := g.Decoder.DecodeEnvelope(req.Body)
	if err != nil {
		return IngestResult{StatusCode: core.HTTPStatus(err)}, err
	}
	fields["event_kind"] = envelope.Event
	fields["external_event_id"] = envelope.EventID

	event, created, err := g.Events.Record(ctx, core.RecordEventInput{
		Source:           source,
		ExternalEventID:  envelope.EventID,
		Kind:             envelope.Event,
		APIVersion:       envelope.APIVersion,
		OccurredAt:       envelope.Timestamp,
		Refs:             envelope.Refs(),
		MaxRetries:       g.MaxRetries,
		SignatureVersion: keyVersion,
		RawPayload:       req.Body,
	})
	if err != nil {
		classified := core.ClassifyError(err)
		return IngestResult{StatusCode: classified.Code}, classified
	}
	if created && g.Notifier != nil {
		// The event is durable; a failed notification leaves it to the poller.
		if notifyErr := g.Notifier.EventRecorded(ctx, event); notifyErr != nil {
			g.Observer.Warn(ctx, "webhook event notification failed", map[string]any{
				"event_id": event.ID,
				"error":    notifyErr.Error(),
			})
		}
	}
	return IngestResult{
		EventID:    event.ID,
		Duplicate:  !created,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"source":            source,
			"external_event_id": event.ExternalEventID,
			"status":            string(event.Status),
			"duplicate":         !created,
		},
	}, nil
}

func (g *Gateway) maxBodyBytes() int64 {
	if g.MaxBodyBytes > 0 {
		return g.MaxBodyBytes
	}
	return core.DefaultMaxBodyBytes
}

func ingestOutcome(result IngestResult, err error) string {
	switch {
	case err != nil:
		return strings.ToLower(strings.TrimPrefix(core.ErrorTextCode(err), "CHARTER_"))
	case result.Duplicate:
		return "duplicate"
	default:
		return "accepted"
	}
}
