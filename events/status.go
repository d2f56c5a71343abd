package events

import (
	"strings"

	"github.com/goliatone/go-charter-sync/core"
)

// externalStatuses maps marketplace trip statuses to request lifecycle states.
var externalStatuses = map[string]core.RequestStatus{
	"created":          core.RequestStatusTripCreated,
	"trip_created":     core.RequestStatusTripCreated,
	"session_active":   core.RequestStatusAvinodeSessionActive,
	"active":           core.RequestStatusAvinodeSessionActive,
	"monitoring":       core.RequestStatusMonitoringForQuotes,
	"searching":        core.RequestStatusSearchingFlights,
	"search":           core.RequestStatusSearchingFlights,
	"sent":             core.RequestStatusAwaitingQuotes,
	"rfq_sent":         core.RequestStatusAwaitingQuotes,
	"open":             core.RequestStatusAwaitingQuotes,
	"quoted":           core.RequestStatusAnalyzingProposals,
	"quotes_received":  core.RequestStatusAnalyzingProposals,
	"booked":           core.RequestStatusCompleted,
	"closed_won":       core.RequestStatusCompleted,
	"cancelled":        core.RequestStatusCancelled,
	"canceled":         core.RequestStatusCancelled,
	"withdrawn":        core.RequestStatusCancelled,
	"expired":          core.RequestStatusFailed,
	"declined":         core.RequestStatusFailed,
	"closed_lost":      core.RequestStatusFailed,
	"no_availability":  core.RequestStatusFailed,
	"awaiting_quotes":  core.RequestStatusAwaitingQuotes,
	"generating_email": core.RequestStatusGeneratingEmail,
}

// MapExternalStatus resolves an external status. Internal state names are
// accepted verbatim.
func MapExternalStatus(value string) (core.RequestStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if key == "" {
		return "", false
	}
	if status, ok := externalStatuses[key]; ok {
		return status, true
	}
	return core.ParseRequestStatus(key)
}
