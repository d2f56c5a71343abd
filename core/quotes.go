package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// QuoteUpdateKind classifies an upsert against an existing quote.
type QuoteUpdateKind int

const (
	QuoteUnchanged QuoteUpdateKind = iota
	QuoteApplied
	QuoteStale
)

// ClassifyQuoteUpdate decides how an incoming quote relates to the stored
// one. Updates older than the stored source time are stale and never applied.
func ClassifyQuoteUpdate(existing Quote, in UpsertQuoteInput) QuoteUpdateKind {
	if !in.SourceUpdatedAt.IsZero() && !existing.SourceUpdatedAt.IsZero() &&
		in.SourceUpdatedAt.Before(existing.SourceUpdatedAt) {
		return QuoteStale
	}
	if quoteValuesEqual(existing, in) {
		return QuoteUnchanged
	}
	return QuoteApplied
}

func quoteValuesEqual(existing Quote, in UpsertQuoteInput) bool {
	return sameAmount(existing.Price.Total, in.Price.Total) &&
		sameAmount(existing.Price.BasePrice, in.Price.BasePrice) &&
		sameAmount(existing.Price.Taxes, in.Price.Taxes) &&
		sameAmount(existing.Price.Fees, in.Price.Fees) &&
		strings.EqualFold(existing.Price.Currency, in.Price.Currency) &&
		existing.Status == in.Status &&
		sameTime(existing.ValidFrom, in.ValidFrom) &&
		sameTime(existing.ValidUntil, in.ValidUntil) &&
		existing.AircraftType == in.AircraftType &&
		existing.AircraftTail == in.AircraftTail
}

// NewQuoteRevision captures the prior values of existing before in is applied.
func NewQuoteRevision(existing Quote, in UpsertQuoteInput, applied bool, at time.Time) QuoteRevision {
	return QuoteRevision{
		QuoteID:        existing.ID,
		EventID:        in.EventID,
		PreviousTotal:  existing.Price.Total,
		NewTotal:       in.Price.Total,
		Currency:       existing.Price.Currency,
		PreviousStatus: existing.Status,
		NewStatus:      in.Status,
		Applied:        applied,
		RecordedAt:     at.UTC(),
	}
}

// ApplyQuoteUpdate returns existing with the values of in applied. Incoming
// notes and a note of the prior value are appended, never replacing history.
func ApplyQuoteUpdate(existing Quote, in UpsertQuoteInput, at time.Time) Quote {
	note := fmt.Sprintf(
		"%s: updated from %.2f %s (%s)",
		at.UTC().Format(time.RFC3339),
		existing.Price.Total,
		existing.Price.Currency,
		existing.Status,
	)
	updated := existing
	updated.Price = in.Price
	updated.Status = in.Status
	updated.ValidFrom = in.ValidFrom
	updated.ValidUntil = in.ValidUntil
	if in.AircraftType != "" {
		updated.AircraftType = in.AircraftType
	}
	if in.AircraftTail != "" {
		updated.AircraftTail = in.AircraftTail
	}
	notes := existing.Notes
	if incoming := strings.TrimSpace(in.Notes); incoming != "" && !strings.Contains(notes, incoming) {
		notes = AppendNote(notes, incoming)
	}
	updated.Notes = AppendNote(notes, note)
	if !in.SourceUpdatedAt.IsZero() {
		updated.SourceUpdatedAt = in.SourceUpdatedAt.UTC()
	}
	updated.UpdatedAt = at.UTC()
	return updated
}

// NewQuoteFromInput builds a quote for a first-seen external quote id.
func NewQuoteFromInput(id string, in UpsertQuoteInput, at time.Time) Quote {
	status := in.Status
	if status == "" {
		status = QuoteStatusReceived
	}
	sourceAt := in.SourceUpdatedAt
	if sourceAt.IsZero() {
		sourceAt = at
	}
	return Quote{
		ID:              id,
		RequestID:       in.RequestID,
		OperatorID:      in.OperatorID,
		ExternalQuoteID: in.ExternalQuoteID,
		Price:           in.Price,
		ValidFrom:       in.ValidFrom,
		ValidUntil:      in.ValidUntil,
		Status:          status,
		AircraftType:    in.AircraftType,
		AircraftTail:    in.AircraftTail,
		Notes:           strings.TrimSpace(in.Notes),
		SourceUpdatedAt: sourceAt.UTC(),
		CreatedAt:       at.UTC(),
		UpdatedAt:       at.UTC(),
	}
}

func AppendNote(existing string, note string) string {
	existing = strings.TrimSpace(existing)
	note = strings.TrimSpace(note)
	switch {
	case existing == "":
		return note
	case note == "":
		return existing
	default:
		return existing + "\n" + note
	}
}

func sameAmount(a float64, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func sameTime(a *time.Time, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
