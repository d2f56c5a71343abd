package workflow

import "github.com/goliatone/go-charter-sync/core"

var happyPathIndex = func() map[core.RequestStatus]int {
	index := make(map[core.RequestStatus]int, len(core.HappyPath))
	for position, status := range core.HappyPath {
		index[status] = position
	}
	return index
}()

// CanTransition reports whether from -> to is a legal edge. Forward moves may
// skip intermediate happy-path states; failed and cancelled are reachable from
// any non-terminal state; terminal states have no outgoing edges.
func CanTransition(from core.RequestStatus, to core.RequestStatus) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == core.RequestStatusFailed || to == core.RequestStatusCancelled {
		return true
	}
	fromIndex, fromOK := happyPathIndex[from]
	toIndex, toOK := happyPathIndex[to]
	return fromOK && toOK && toIndex > fromIndex
}

// AllowedTargets lists the legal next states of from in lifecycle order.
func AllowedTargets(from core.RequestStatus) []core.RequestStatus {
	out := []core.RequestStatus{}
	for _, candidate := range core.AllRequestStatuses() {
		if CanTransition(from, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}
