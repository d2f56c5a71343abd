// Package events turns raw marketplace webhook payloads into canonical events.
//
// Every supported event kind maps to exactly one payload variant. Variants are
// sealed to this package and dispatched through PayloadVisitor, so a new kind
// is added by declaring its variant and extending the visitor; every visitor
// implementation then fails to compile until it handles the new case.
package events
