package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wadesk/internal/database"
	"wadesk/internal/metrics"
	"wadesk/internal/models"
	"wadesk/internal/privacy"
	"wadesk/internal/realtime"

	"github.com/sirupsen/logrus"
)

// WebhookService turns gateway notifications into durable state changes and
// realtime events. Handlers are item-isolated: one bad item in a batch never
// fails its siblings, and handler errors never fail the webhook request.
type WebhookService struct {
	store  Store
	pub    Publisher
	logger *logrus.Logger
}

// NewWebhookService wires the webhook pipeline. All dependencies are
// required.
func NewWebhookService(store Store, pub Publisher, logger *logrus.Logger) (*WebhookService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &WebhookService{store: store, pub: pub, logger: logger}, nil
}

// Register attaches this service's handlers to the router.
func (s *WebhookService) Register(router *Router) {
	router.Handle(models.EventMessagesUpsert, s.HandleMessagesUpsert)
	router.Handle(models.EventMessagesUpdate, s.HandleMessagesUpdate)
	router.Handle(models.EventConnectionUpdate, s.HandleConnectionUpdate)
	router.Handle(models.EventQRCodeUpdated, s.HandleQRCodeUpdate)
	router.Handle(models.EventQRCodeUpdate, s.HandleQRCodeUpdate)
	router.Handle(models.EventContactsUpsert, s.HandleContactsUpsert)
	router.Handle(models.EventContactsUpdate, s.HandleContactsUpsert)
}

// resolveInstance looks up the instance named in the envelope. A nil result
// with nil error means "skip this envelope".
func (s *WebhookService) resolveInstance(ctx context.Context, name string) (*models.Instance, error) {
	if name == "" {
		return nil, nil
	}
	inst, err := s.store.GetInstanceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		s.logger.WithField(LogFieldInstance, name).Warn("Webhook for unknown instance, skipping")
		metrics.IncrementCounter("webhook_unknown_instance_total", nil, "Webhooks naming unregistered instances")
	}
	return inst, nil
}

// HandleMessagesUpsert ingests inbound (and echoed outbound) messages.
func (s *WebhookService) HandleMessagesUpsert(ctx context.Context, env *models.WebhookEnvelope) error {
	inst, err := s.resolveInstance(ctx, env.Instance)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}

	items, err := env.Items()
	if err != nil {
		return err
	}

	for _, raw := range items {
		var item models.MessageUpsertItem
		if err := json.Unmarshal(raw, &item); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable message upsert item")
			continue
		}
		if err := s.ingestMessage(ctx, inst, &item); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				LogFieldInstance:   inst.Name,
				LogFieldExternalID: privacy.MaskExternalID(item.Key.ID),
			}).Error("Failed to ingest message")
			metrics.IncrementCounter("message_ingest_errors_total", nil, "Message upsert items that failed")
		}
	}
	return nil
}

// ingestMessage runs the upsert pipeline for a single item: contact resolve,
// conversation upsert, idempotent insert, aggregate update, fan-out.
func (s *WebhookService) ingestMessage(ctx context.Context, inst *models.Instance, item *models.MessageUpsertItem) error {
	if item.Key.ID == "" || item.Key.RemoteJID == "" {
		return nil
	}
	if item.Key.RemoteJID == models.BroadcastJID {
		return nil
	}

	// Duplicate deliveries are the common case under at-least-once webhooks;
	// check before doing any work.
	existing, err := s.store.GetMessageByExternalID(ctx, inst.ID, item.Key.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		metrics.IncrementCounter("message_duplicates_total", nil, "Duplicate message deliveries suppressed")
		return nil
	}

	contact, err := s.resolveContact(ctx, inst.ID, item)
	if err != nil {
		return err
	}

	conv, err := s.store.GetConversationByContact(ctx, inst.ID, contact.ID)
	if err != nil {
		return err
	}
	if conv == nil {
		conv, err = s.store.CreateConversation(ctx, inst.ID, contact.ID)
		if err != nil {
			return err
		}
	}

	normalized := item.Message.Normalize()
	sentAt := time.Unix(item.MessageTimestamp, 0).UTC()
	if item.MessageTimestamp == 0 {
		sentAt = time.Now().UTC()
	}

	msg := &models.Message{
		InstanceID:     inst.ID,
		ConversationID: conv.ID,
		ExternalID:     item.Key.ID,
		Type:           normalized.Type,
		Content:        normalized.Content,
		Media:          normalized.Media,
		FromAgent:      item.Key.FromMe,
		SentAt:         sentAt,
	}
	if normalized.QuotedID != "" {
		msg.QuotedExternalID = &normalized.QuotedID
	}
	if item.Key.FromMe {
		msg.Status = models.StatusSent
	} else {
		msg.Status = models.StatusDelivered
	}

	stored, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		// Lost the insert race to a concurrent duplicate delivery.
		if errors.Is(err, database.ErrDuplicateMessage) {
			metrics.IncrementCounter("message_duplicates_total", nil, "Duplicate message deliveries suppressed")
			return nil
		}
		return err
	}

	if item.Key.FromMe {
		conv, err = s.store.ApplyOutboundMessage(ctx, conv.ID, stored.Preview(), sentAt)
	} else {
		conv, err = s.store.ApplyInboundMessage(ctx, conv.ID, stored.Preview(), sentAt)
	}
	if err != nil {
		return err
	}

	s.pub.PublishTopic(realtime.ConversationTopic(conv.ID), EventMessageNew, stored)
	s.pub.PublishGlobal(EventMessageNew, &MessageNotification{
		Message:        stored,
		Contact:        contact,
		ContactName:    contact.DisplayName(),
		ConversationID: conv.ID,
	})
	s.pub.PublishGlobal(EventConversationUpdate, conv)
	metrics.IncrementCounter("messages_ingested_total", map[string]string{
		"type": string(stored.Type),
	}, "Messages persisted from webhooks")

	s.logger.WithFields(logrus.Fields{
		LogFieldInstance:     inst.Name,
		LogFieldConversation: conv.ID,
		LogFieldExternalID:   privacy.MaskExternalID(stored.ExternalID),
		"type":               stored.Type,
	}).Info("Message ingested")
	return nil
}

// resolveContact finds or lazily creates the contact for the item's sender,
// backfilling the display name when a better one arrives. Names only improve:
// a contact created without a push name defaults to its phone string, and
// that default stays backfillable; an empty push name never erases anything.
func (s *WebhookService) resolveContact(ctx context.Context, instanceID int64, item *models.MessageUpsertItem) (*models.Contact, error) {
	contact, err := s.store.GetContactByRemoteJID(ctx, instanceID, item.Key.RemoteJID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		phone := models.PhoneFromJID(item.Key.RemoteJID)
		name := item.PushName
		if name == "" {
			name = phone
		}
		return s.store.CreateContact(ctx, &models.Contact{
			InstanceID: instanceID,
			RemoteJID:  item.Key.RemoteJID,
			Name:       name,
			Phone:      phone,
			IsGroup:    models.IsGroupJID(item.Key.RemoteJID),
		})
	}

	backfillable := contact.Name == "" || contact.Name == contact.Phone
	if backfillable && item.PushName != "" && item.PushName != contact.Name && !item.Key.FromMe {
		if err := s.store.UpdateContactName(ctx, contact.ID, item.PushName); err != nil {
			return nil, err
		}
		contact.Name = item.PushName
	}
	return contact, nil
}

// HandleMessagesUpdate reconciles delivery status signals against stored
// messages. Unknown messages and unknown status codes are silently skipped;
// writes that would not change the stored status are suppressed.
func (s *WebhookService) HandleMessagesUpdate(ctx context.Context, env *models.WebhookEnvelope) error {
	inst, err := s.resolveInstance(ctx, env.Instance)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}

	items, err := env.Items()
	if err != nil {
		return err
	}

	for _, raw := range items {
		var item models.MessageUpdateItem
		if err := json.Unmarshal(raw, &item); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable message update item")
			continue
		}
		if err := s.reconcileStatus(ctx, inst, &item); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				LogFieldInstance:   inst.Name,
				LogFieldExternalID: privacy.MaskExternalID(item.Key.ID),
			}).Error("Failed to reconcile message status")
		}
	}
	return nil
}

func (s *WebhookService) reconcileStatus(ctx context.Context, inst *models.Instance, item *models.MessageUpdateItem) error {
	status, ok := models.StatusFromVendorCode(item.Update.Status)
	if !ok {
		return nil
	}

	msg, err := s.store.GetMessageByExternalID(ctx, inst.ID, item.Key.ID)
	if err != nil {
		return err
	}
	if msg == nil {
		// Status for a message this system never stored; ordering between
		// upsert and update deliveries is not guaranteed.
		return nil
	}
	if msg.Status == status {
		return nil
	}

	if err := s.store.UpdateMessageStatus(ctx, msg.ID, status); err != nil {
		return err
	}

	s.pub.PublishTopic(realtime.ConversationTopic(msg.ConversationID), EventMessageUpdate, map[string]interface{}{
		"messageId": msg.ID,
		"status":    status,
	})
	metrics.IncrementCounter("message_status_updates_total", map[string]string{
		"status": string(status),
	}, "Applied message status transitions")
	return nil
}

// HandleConnectionUpdate persists instance connection transitions and
// broadcasts them.
func (s *WebhookService) HandleConnectionUpdate(ctx context.Context, env *models.WebhookEnvelope) error {
	inst, err := s.resolveInstance(ctx, env.Instance)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}

	var data models.ConnectionUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("failed to decode connection update: %w", err)
	}

	status := models.ConnectionStateFromVendor(data.State)
	if err := s.store.UpdateInstanceStatus(ctx, inst.ID, status); err != nil {
		return err
	}

	s.pub.PublishGlobal(EventInstanceStatus, map[string]interface{}{
		"instanceId": inst.ID,
		"name":       inst.Name,
		"status":     status,
	})
	s.logger.WithFields(logrus.Fields{
		LogFieldInstance: inst.Name,
		"status":         status,
	}).Info("Instance connection updated")
	return nil
}

// HandleQRCodeUpdate stores the latest pairing payload and broadcasts it so
// an operator UI can render it immediately.
func (s *WebhookService) HandleQRCodeUpdate(ctx context.Context, env *models.WebhookEnvelope) error {
	inst, err := s.resolveInstance(ctx, env.Instance)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}

	var data models.QRCodeUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("failed to decode qr code update: %w", err)
	}

	payload := data.Payload()
	if payload == "" {
		return nil
	}
	if err := s.store.UpdateInstanceQRCode(ctx, inst.ID, payload); err != nil {
		return err
	}

	s.pub.PublishGlobal(EventInstanceQRCode, map[string]interface{}{
		"instanceId": inst.ID,
		"name":       inst.Name,
		"qrcode":     payload,
	})
	return nil
}

// contactSyncItem is the vendor shape for contact sync notifications.
type contactSyncItem struct {
	RemoteJID string `json:"remoteJid"`
	ID        string `json:"id"`
	PushName  string `json:"pushName"`
}

func (c *contactSyncItem) jid() string {
	if c.RemoteJID != "" {
		return c.RemoteJID
	}
	return c.ID
}

// HandleContactsUpsert backfills contact names from vendor contact sync
// events. Unknown contacts are not created here; they appear lazily with
// their first message.
func (s *WebhookService) HandleContactsUpsert(ctx context.Context, env *models.WebhookEnvelope) error {
	inst, err := s.resolveInstance(ctx, env.Instance)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}

	items, err := env.Items()
	if err != nil {
		return err
	}

	for _, raw := range items {
		var item contactSyncItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		jid := item.jid()
		if jid == "" || item.PushName == "" {
			continue
		}

		contact, err := s.store.GetContactByRemoteJID(ctx, inst.ID, jid)
		if err != nil {
			s.logger.WithError(err).Warn("Contact sync lookup failed")
			continue
		}
		if contact == nil || contact.Name == item.PushName {
			continue
		}
		if err := s.store.UpdateContactName(ctx, contact.ID, item.PushName); err != nil {
			s.logger.WithError(err).Warn("Contact sync name update failed")
		}
	}
	return nil
}
