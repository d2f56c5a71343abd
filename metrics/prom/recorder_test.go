package prom

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-charter-sync/core"
)

// gathered sums counter values and histogram sample counts per family for
// series whose labels include every pair in match.
func gathered(t *testing.T, registry *prometheus.Registry, family string, match map[string]string) (float64, int) {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var (
		total  float64
		series int
	)
	for _, f := range families {
		if f.GetName() != family {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			matched := true
			for key, value := range match {
				if labels[key] != value {
					matched = false
				}
			}
			if !matched {
				continue
			}
			series++
			if counter := metric.GetCounter(); counter != nil {
				total += counter.GetValue()
			}
			if histogram := metric.GetHistogram(); histogram != nil {
				total += float64(histogram.GetSampleCount())
			}
		}
	}
	return total, series
}

func TestRecorderCountsObserverOperations(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)
	observer := core.NewObserver("charter", nil, recorder)
	ctx := context.Background()

	recorder.IncCounter(ctx, "charter.event_claim.total", 1, map[string]string{"operation": "event_claim", "outcome": "claimed"})
	recorder.IncCounter(ctx, "charter.event_claim.total", 2, map[string]string{"operation": "event_claim", "outcome": "claimed"})
	recorder.IncCounter(ctx, "charter.event_claim.total", 1, map[string]string{"operation": "event_claim", "outcome": "lost", "ignored": "x"})
	observer.Count(ctx, "dead_letter.total", 1, map[string]string{"error_code": core.ErrorMalformedPayload})

	claimed, _ := gathered(t, registry, "charter_event_claim_total", map[string]string{"outcome": "claimed"})
	if claimed != 3 {
		t.Fatalf("expected 3 claimed, got %v", claimed)
	}
	if _, series := gathered(t, registry, "charter_event_claim_total", nil); series != 2 {
		t.Fatalf("expected two label series, got %d", series)
	}
	dead, _ := gathered(t, registry, "charter_dead_letter_total", map[string]string{"error_code": core.ErrorMalformedPayload})
	if dead != 1 {
		t.Fatalf("expected dead letter counter, got %v", dead)
	}
}

func TestRecorderObservesHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry, WithNamespace("ops"), WithBuckets(1, 10, 100))
	ctx := context.Background()

	recorder.ObserveHistogram(ctx, "charter.reconcile.duration_ms", 4, map[string]string{"operation": "reconcile"})
	recorder.ObserveHistogram(ctx, "charter.reconcile.duration_ms", 40, map[string]string{"operation": "reconcile"})

	samples, series := gathered(t, registry, "ops_charter_reconcile_duration_ms", nil)
	if series != 1 || samples != 2 {
		t.Fatalf("expected one series with two samples, got %d series %v samples", series, samples)
	}
}

func TestRecorderReusesAlreadyRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewRecorder(registry)
	second := NewRecorder(registry)
	ctx := context.Background()

	first.IncCounter(ctx, "charter.webhook_ingest.total", 1, nil)
	second.IncCounter(ctx, "charter.webhook_ingest.total", 1, nil)

	total, series := gathered(t, registry, "charter_webhook_ingest_total", nil)
	if total != 2 || series != 1 {
		t.Fatalf("expected shared collector with total 2, got %v over %d series", total, series)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"charter.event_claim.total": "charter_event_claim_total",
		" Lease-Reclaim ":           "lease_reclaim",
		"9lives":                    "_9lives",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
