package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/security"
)

const signaturePrefix = "sha256="

type Verifier interface {
	// Verify returns the key version that signed req.
	Verify(ctx context.Context, req core.InboundRequest) (string, error)
}

// KeyringVerifier checks a hex HMAC-SHA256 of the raw body against the
// versioned secrets of a keyring. When the delivery names no key version every
// key active at the receive time is tried, which covers rotation overlap.
type KeyringVerifier struct {
	Keys             *security.Keyring
	SignatureHeader  string
	KeyVersionHeader string
	Now              core.Clock
}

func NewKeyringVerifier(keys *security.Keyring, cfg core.WebhookConfig) KeyringVerifier {
	return KeyringVerifier{
		Keys:             keys,
		SignatureHeader:  firstNonEmpty(cfg.SignatureHeader, core.DefaultSignatureHeader),
		KeyVersionHeader: firstNonEmpty(cfg.KeyVersionHeader, core.DefaultKeyVersionHeader),
	}
}

func (v KeyringVerifier) Verify(_ context.Context, req core.InboundRequest) (string, error) {
	if v.Keys == nil || v.Keys.Len() == 0 {
		return "", core.AuthError("webhook signing keys are not configured", nil)
	}
	header := headerValue(req.Headers, firstNonEmpty(v.SignatureHeader, core.DefaultSignatureHeader))
	if header == "" {
		return "", core.AuthError("webhook signature header is required", map[string]any{
			"header": firstNonEmpty(v.SignatureHeader, core.DefaultSignatureHeader),
		})
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, signaturePrefix))
	decoded, err := hex.DecodeString(signature)
	if err != nil || len(decoded) == 0 {
		return "", core.AuthError("webhook signature is not valid hex", nil)
	}

	at := req.ReceivedAt
	if at.IsZero() {
		at = v.Now.Now()
	}
	candidates, err := v.candidates(req, at)
	if err != nil {
		return "", err
	}
	for _, key := range candidates {
		if subtle.ConstantTimeCompare(decoded, Sign(key.Secret, req.Body)) == 1 {
			return key.Version, nil
		}
	}
	return "", core.AuthError("webhook signature verification failed", map[string]any{
		"keys_tried": len(candidates),
	})
}

func (v KeyringVerifier) candidates(req core.InboundRequest, at time.Time) ([]security.SigningKey, error) {
	version := headerValue(req.Headers, firstNonEmpty(v.KeyVersionHeader, core.DefaultKeyVersionHeader))
	if version == "" {
		active := v.Keys.Active(at)
		if len(active) == 0 {
			return nil, core.AuthError("no webhook signing key is active", nil)
		}
		return active, nil
	}
	key, err := v.Keys.Lookup(version, at)
	if err != nil {
		return nil, core.AuthError("webhook signing key rejected", keyErrorMetadata(version, err))
	}
	return []security.SigningKey{key}, nil
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret []byte, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeaderValue renders the header value a sender would attach.
func SignatureHeaderValue(secret []byte, body []byte) string {
	return signaturePrefix + hex.EncodeToString(Sign(secret, body))
}

func keyErrorMetadata(version string, err error) map[string]any {
	reason := "unknown_version"
	if errors.Is(err, security.ErrKeyNotActive) {
		reason = "outside_rotation_window"
	}
	return map[string]any{"key_version": version, "reason": reason}
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
