package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/gofiber/fiber/v2/log"
)

// Translator turns a stored provider payload into a normalized event.
type Translator interface {
	Translate(ctx context.Context, payload []byte) (*Event, error)
}

// RecordWebhookEvent persists a verified webhook envelope once per provider
// event id. It reports whether the envelope is new.
func (l *Ledger) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, apperrors.Validation("provider", "is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		OccurredAt:      in.OccurredAt.UTC(),
		PayloadJSON:     in.PayloadJSON,
	}
	return l.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed records the outcome of processing a stored envelope.
func (l *Ledger) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return l.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

// ProcessWebhookEvent applies a stored envelope to the ledger. Envelopes that
// were already processed successfully are skipped.
func (l *Ledger) ProcessWebhookEvent(ctx context.Context, webhookEventID uint, tr Translator) error {
	stored, err := l.repo.GetWebhookEvent(ctx, webhookEventID)
	if err != nil {
		return err
	}
	if stored.ProcessedAt != nil {
		log.Infof("[Billing] Webhook event %s already processed", stored.ProviderEventID)
		return nil
	}
	if !l.Handles(stored.EventType) {
		return l.MarkWebhookProcessed(ctx, stored.ID, nil)
	}

	ev, err := tr.Translate(ctx, []byte(stored.PayloadJSON))
	if err == nil {
		err = l.HandleEvent(ctx, ev)
	}
	if markErr := l.MarkWebhookProcessed(ctx, stored.ID, err); markErr != nil {
		log.Errorf("[Billing] Failed to mark webhook event %d: %v", stored.ID, markErr)
	}
	if err != nil {
		log.Errorf("[Billing] Processing webhook event %s (%s) failed: %v", stored.ProviderEventID, stored.EventType, err)
	}
	return err
}
