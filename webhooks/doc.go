// Package webhooks receives marketplace deliveries and drives their claim
// lifecycle.
//
// Stored events move pending -> processing -> completed|skipped, or back to
// pending with a backoff after a failure until they are dead-lettered. The
// atomic claim is the only synchronization point between workers.
package webhooks
