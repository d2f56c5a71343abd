package core

import "context"

// Operation names reported through Observer. Metric names are prefixed with
// the observer prefix, for example "charter.webhook_ingest.total".
const (
	OperationIngest     = "webhook_ingest"
	OperationClaim      = "event_claim"
	OperationProcess    = "event_process"
	OperationReclaim    = "lease_reclaim"
	OperationReconcile  = "reconcile"
	OperationTransition = "workflow_transition"
	OperationFailure    = "event_failure"
	OperationReplay     = "event_replay"
	OperationDeadLetter = "dead_letter"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
