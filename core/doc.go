// Package core contains the canonical charter-sync domain: webhook event
// envelopes, requests, quotes, operators, conversations and workflow records,
// plus the store contracts and error taxonomy shared by every component.
// Adapters depend on this package; core must not depend on storage or
// transport adapters.
package core
