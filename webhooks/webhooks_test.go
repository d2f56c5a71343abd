package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/events"
	"github.com/goliatone/go-charter-sync/security"
	"github.com/goliatone/go-charter-sync/store/memory"
)

const quoteDelivery = `{
  "event": "TripRequestSellerResponse",
  "eventId": "evt_100",
  "timestamp": "2026-03-01T10:00:00Z",
  "apiVersion": "v1",
  "data": {"tripId": "trip_1", "quote": {"id": "q_1", "price": {"total": 42000}}, "seller": {"id": "op_1"}}
}`

var testNow = time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	gateway *Gateway
	keys    *security.Keyring
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	keys, err := security.NewKeyring(
		security.SigningKey{Version: "v1", Secret: []byte("old-secret")},
		security.SigningKey{Version: "v2", Secret: []byte("new-secret")},
	)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	parser, err := events.NewParser()
	if err != nil {
		t.Fatalf("parser: %v", err)
	}
	store := memory.New(func() time.Time { return testNow })
	cfg := core.DefaultConfig()
	gateway := NewGateway(NewKeyringVerifier(keys, cfg.Webhooks), parser, store.WebhookEventStore(), cfg)
	gateway.Now = func() time.Time { return testNow }
	return fixture{store: store, gateway: gateway, keys: keys}
}

func signedRequest(secret string, body string, headers map[string]string) core.InboundRequest {
	all := map[string]string{core.DefaultSignatureHeader: SignatureHeaderValue([]byte(secret), []byte(body))}
	for key, value := range headers {
		all[key] = value
	}
	return core.InboundRequest{Headers: all, Body: []byte(body)}
}

func TestGatewayRecordsPendingEventOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.gateway.Ingest(ctx, signedRequest("new-secret", quoteDelivery, nil))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if first.Duplicate || first.StatusCode != http.StatusOK {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := fx.gateway.Ingest(ctx, signedRequest("new-secret", quoteDelivery, nil))
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}
	if !second.Duplicate || second.EventID != first.EventID {
		t.Fatalf("expected duplicate of %s, got %+v", first.EventID, second)
	}

	event, err := fx.store.WebhookEventStore().Get(ctx, first.EventID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if event.Status != core.EventStatusPending || event.Kind != events.KindTripRequestSellerResponse {
		t.Fatalf("unexpected stored event %+v", event)
	}
	if event.SignatureVersion != "v2" || event.Refs.TripID != "trip_1" || event.Refs.QuoteID != "q_1" {
		t.Fatalf("unexpected envelope metadata %+v", event)
	}
	if string(event.RawPayload) != quoteDelivery {
		t.Fatalf("raw payload was not preserved")
	}
}

func TestGatewaySelectsKeyByVersionHeader(t *testing.T) {
	fx := newFixture(t)
	req := signedRequest("old-secret", quoteDelivery, map[string]string{core.DefaultKeyVersionHeader: "v2"})
	_, err := fx.gateway.Ingest(context.Background(), req)
	if core.ErrorTextCode(err) != core.ErrorAuthFailed {
		t.Fatalf("expected auth failure for mismatched version, got %v", err)
	}

	req = signedRequest("old-secret", quoteDelivery, map[string]string{"x-avinode-key-version": "v1"})
	result, err := fx.gateway.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest with v1: %v", err)
	}
	if result.Duplicate {
		t.Fatalf("expected new event")
	}
}

func TestGatewayRejectsExpiredKey(t *testing.T) {
	fx := newFixture(t)
	expired := testNow.Add(-time.Hour)
	if err := fx.keys.Add(security.SigningKey{
		Version: "v0",
		Secret:  []byte("retired"),
		Window:  security.KeyRotationWindow{NotAfter: expired},
	}); err != nil {
		t.Fatalf("add key: %v", err)
	}
	_, err := fx.gateway.Ingest(context.Background(), signedRequest("retired", quoteDelivery, nil))
	if core.ErrorTextCode(err) != core.ErrorAuthFailed {
		t.Fatalf("expected auth failure for retired key, got %v", err)
	}
}

func TestGatewayRejectsBeforeRecording(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	unsigned := core.InboundRequest{Body: []byte(quoteDelivery)}
	if result, err := fx.gateway.Ingest(ctx, unsigned); core.ErrorTextCode(err) != core.ErrorAuthFailed || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned delivery, got %d %v", result.StatusCode, err)
	}
	if core.IsRetryable(core.AuthError("", nil)) {
		t.Fatalf("auth errors must not be retryable")
	}

	malformed := `{"event": "TripChatSeller", "data": {}}`
	result, err := fx.gateway.Ingest(ctx, signedRequest("new-secret", malformed, nil))
	if core.ErrorTextCode(err) != core.ErrorMalformedPayload || result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 malformed, got %d %v", result.StatusCode, err)
	}

	fx.gateway.MaxBodyBytes = 16
	result, err = fx.gateway.Ingest(ctx, signedRequest("new-secret", quoteDelivery, nil))
	if core.ErrorTextCode(err) != core.ErrorPayloadTooLarge || result.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %v", result.StatusCode, err)
	}

	stored, _ := fx.store.WebhookEventStore().List(ctx, core.EventFilter{})
	if len(stored) != 0 {
		t.Fatalf("rejected deliveries must not be recorded, got %d", len(stored))
	}
}

type failingIngester struct{ err error }

func (f failingIngester) Ingest(context.Context, core.InboundRequest) (IngestResult, error) {
	return IngestResult{}, f.err
}

func TestHTTPHandlerStatusCodes(t *testing.T) {
	fx := newFixture(t)
	handler := NewHTTPHandler(fx.gateway)

	send := func(h http.Handler, method string, body string, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, core.DefaultWebhookPath, strings.NewReader(body))
		if signature != "" {
			req.Header.Set(core.DefaultSignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	valid := SignatureHeaderValue([]byte("new-secret"), []byte(quoteDelivery))

	if rec := send(handler, http.MethodPost, quoteDelivery, valid); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	rec := send(handler, http.MethodPost, quoteDelivery, valid)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"duplicate":true`) {
		t.Fatalf("expected duplicate 200, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := send(handler, http.MethodPost, quoteDelivery, "sha256=00"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := send(handler, http.MethodGet, "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	handler.MaxBodyBytes = 8
	if rec := send(handler, http.MethodPost, quoteDelivery, valid); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	transient := &HTTPHandler{Ingester: failingIngester{err: errors.New("connection reset")}}
	rec = send(transient, http.MethodPost, quoteDelivery, valid)
	if rec.Code != http.StatusServiceUnavailable || strings.Contains(rec.Body.String(), "connection reset") {
		t.Fatalf("expected opaque 503, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestExponentialRetryPolicyCaps(t *testing.T) {
	policy := ExponentialRetryPolicy{Initial: time.Second, Max: 5 * time.Second}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for index, want := range expected {
		if got := policy.NextDelay(index + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", index+1, want, got)
		}
	}
}

func TestSchedulerDecisions(t *testing.T) {
	scheduler := &Scheduler{Policy: ExponentialRetryPolicy{Initial: time.Second, Max: time.Minute}, MaxRetries: 3}
	event := core.WebhookEvent{RetryCount: 0, MaxRetries: 3}

	decision := scheduler.Decide(event, core.UnresolvedReferenceError("request", "trip_1", nil), "reconcile", testNow)
	if decision.Status != core.EventStatusPending || decision.RetryCount != 1 || decision.NextRetryAt == nil {
		t.Fatalf("expected retry, got %+v", decision)
	}
	if !decision.NextRetryAt.Equal(testNow.Add(time.Second)) {
		t.Fatalf("expected first backoff of 1s, got %s", decision.NextRetryAt)
	}
	if decision.ErrorCode != core.ErrorUnresolvedReference || decision.ErrorStack != "reconcile" {
		t.Fatalf("unexpected error details %+v", decision)
	}

	event.RetryCount = 2
	decision = scheduler.Decide(event, errors.New("db gone"), "", testNow)
	if !decision.DeadLetter() || decision.RetryCount != 3 || decision.NextRetryAt != nil {
		t.Fatalf("expected dead letter at max retries, got %+v", decision)
	}
	if decision.ErrorCode != core.ErrorTransientStore {
		t.Fatalf("expected transient code for unclassified error, got %s", decision.ErrorCode)
	}

	event.RetryCount = 0
	decision = scheduler.Decide(event, core.MalformedPayloadError("bad", nil), "", testNow)
	if !decision.DeadLetter() || decision.RetryCount != 1 {
		t.Fatalf("expected permanent failure to dead letter, got %+v", decision)
	}
	decision = scheduler.Decide(event, core.IllegalTransitionError("req", core.RequestStatusCompleted, core.RequestStatusSearchingFlights), "", testNow)
	if !decision.DeadLetter() {
		t.Fatalf("expected illegal transition to dead letter, got %+v", decision)
	}
}

func TestClaimManagerRetriesUnknownRequestToDeadLetter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := testNow
	clock := func() time.Time { return now }
	manager := NewClaimManager(fx.store.WebhookEventStore(), &Scheduler{
		Policy:     ExponentialRetryPolicy{Initial: time.Second, Max: time.Minute},
		MaxRetries: 3,
	}, WithClaimClock(clock))
	fx.gateway.MaxRetries = 3

	result, err := fx.gateway.Ingest(ctx, signedRequest("new-secret", quoteDelivery, nil))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	cause := core.UnresolvedReferenceError("request", "trip_1", nil)
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := manager.Claim(ctx, result.EventID)
		if err != nil || !claimed {
			t.Fatalf("attempt %d: claim=%v err=%v", attempt, claimed, err)
		}
		decision, err := manager.Fail(ctx, result.EventID, cause, "reconcile.quote")
		if err != nil {
			t.Fatalf("attempt %d: fail: %v", attempt, err)
		}
		if decision.RetryCount != attempt {
			t.Fatalf("attempt %d: expected retry count %d, got %d", attempt, attempt, decision.RetryCount)
		}
		if attempt < 3 {
			if decision.Status != core.EventStatusPending {
				t.Fatalf("attempt %d: expected pending, got %s", attempt, decision.Status)
			}
			now = *decision.NextRetryAt
		}
	}
	event, _ := fx.store.WebhookEventStore().Get(ctx, result.EventID)
	if event.Status != core.EventStatusDeadLetter || event.RetryCount != 3 {
		t.Fatalf("expected dead letter after 3 attempts, got %+v", event)
	}
	if event.ErrorMessage == "" || event.ErrorStack != "reconcile.quote" {
		t.Fatalf("expected error details to persist, got %+v", event)
	}
	if claimed, _ := manager.Claim(ctx, result.EventID); claimed {
		t.Fatalf("dead-lettered event must not be claimable")
	}
	if _, err := manager.Fail(ctx, result.EventID, cause, ""); !errors.Is(err, core.ErrEventNotProcessing) {
		t.Fatalf("expected ErrEventNotProcessing, got %v", err)
	}
}

func TestClaimManagerReclaimsExpiredLeases(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := testNow
	manager := NewClaimManager(fx.store.WebhookEventStore(), nil, WithClaimClock(func() time.Time { return now }))

	result, err := fx.gateway.Ingest(ctx, signedRequest("new-secret", quoteDelivery, nil))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if claimed, _ := manager.Claim(ctx, result.EventID); !claimed {
		t.Fatalf("expected claim")
	}
	if reclaimed, err := manager.ReclaimExpired(ctx, time.Minute, 10); err != nil || reclaimed != 0 {
		t.Fatalf("fresh claim should not be reclaimed: %d %v", reclaimed, err)
	}
	now = now.Add(2 * time.Minute)
	reclaimed, err := manager.ReclaimExpired(ctx, time.Minute, 10)
	if err != nil || reclaimed != 1 {
		t.Fatalf("expected one reclaim, got %d %v", reclaimed, err)
	}
	event, _ := fx.store.WebhookEventStore().Get(ctx, result.EventID)
	if event.Status != core.EventStatusPending || event.RetryCount != 1 || event.ClaimToken != "" {
		t.Fatalf("expected reclaimed event back to pending, got %+v", event)
	}
}

func TestClaimManagerSingleWinner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	manager := NewClaimManager(fx.store.WebhookEventStore(), nil)
	result, err := fx.gateway.Ingest(ctx, signedRequest("new-secret", quoteDelivery, nil))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	winners := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		go func() {
			claimed, _ := manager.Claim(ctx, result.EventID)
			winners <- claimed
		}()
	}
	count := 0
	for i := 0; i < 8; i++ {
		if <-winners {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
	if err := manager.Complete(ctx, result.EventID, core.LinkedIDs{QuoteID: "q"}, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := manager.Skip(ctx, result.EventID, "late", nil); !errors.Is(err, core.ErrEventNotProcessing) {
		t.Fatalf("expected skip of completed event to fail, got %v", err)
	}
}

func TestClaimManagerFailWithMessageSchedulesRetry(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	manager := NewClaimManager(fx.store.WebhookEventStore(), &Scheduler{
		Policy:     ExponentialRetryPolicy{Initial: time.Second, Max: time.Minute},
		MaxRetries: 2,
	}, WithClaimClock(func() time.Time { return testNow }))

	result, err := fx.gateway.Ingest(ctx, signedRequest("new-secret", quoteDelivery, nil))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if claimed, err := manager.Claim(ctx, result.EventID); err != nil || !claimed {
		t.Fatalf("claim=%v err=%v", claimed, err)
	}
	decision, err := manager.FailWithMessage(ctx, result.EventID, "  upstream timeout ", "driver.loop")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if decision.Status != core.EventStatusPending || decision.RetryCount != 1 {
		t.Fatalf("expected pending retry, got %+v", decision)
	}
	if decision.ErrorCode != core.ErrorTransientStore {
		t.Fatalf("expected transient code, got %q", decision.ErrorCode)
	}
	want := testNow.Add(time.Second)
	if decision.NextRetryAt == nil || !decision.NextRetryAt.Equal(want) {
		t.Fatalf("expected next retry at %s, got %v", want, decision.NextRetryAt)
	}
	event, _ := fx.store.WebhookEventStore().Get(ctx, result.EventID)
	if !strings.Contains(event.ErrorMessage, "upstream timeout") || event.ErrorStack != "driver.loop" {
		t.Fatalf("expected error details to persist, got %+v", event)
	}
}
