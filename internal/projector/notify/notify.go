// Package notify fans allowlisted events out to an external webhook. Every
// delivery is signed with an HMAC-SHA256 of the body; delivery failures are
// logged and the record is committed anyway, since the webhook is a
// best-effort mirror of the log, not a second source of truth.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/event"
)

// Group is the durable consumer group of the notify projector.
const Group = "fabric-notify"

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Fabric-Signature"

const eventTypeHeader = "X-Fabric-Event-Type"

// Projector posts allowlisted events to a webhook endpoint.
type Projector struct {
	url     string
	secret  []byte
	allowed map[string]bool
	client  *http.Client
	logger  *zap.Logger
}

// NewProjector builds the notify projector. allowedTypes lists the event type
// tags to forward; everything else is committed without delivery.
func NewProjector(url, secret string, allowedTypes []string, logger *zap.Logger) *Projector {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}
	return &Projector{
		url:     url,
		secret:  []byte(secret),
		allowed: allowed,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Apply forwards one event. Always returns nil: a webhook outage must not
// stall the partition, so failures are logged and the offset commits.
func (p *Projector) Apply(ctx context.Context, ev event.Event) error {
	if !p.allowed[ev.EventType()] {
		return nil
	}
	if err := p.deliver(ctx, ev); err != nil {
		domain.CountError("notify", "projector", domain.NewUnexpected("webhook delivery failed", err))
		p.logger.Warn("webhook delivery failed",
			zap.String("type", ev.EventType()),
			zap.String("url", p.url),
			zap.Error(err),
		)
	}
	return nil
}

func (p *Projector) deliver(ctx context.Context, ev event.Event) error {
	tag, body, err := event.Marshal(ev)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventTypeHeader, tag)
	req.Header.Set(SignatureHeader, sig)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	p.logger.Debug("webhook delivered",
		zap.String("type", tag),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
