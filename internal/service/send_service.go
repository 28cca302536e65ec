package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wadesk/internal/database"
	apperrors "wadesk/internal/errors"
	"wadesk/internal/metrics"
	"wadesk/internal/models"
	"wadesk/internal/realtime"
	"wadesk/pkg/gateway"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SendTextCommand is an agent's outbound text message.
type SendTextCommand struct {
	ConversationID int64  `json:"conversationId"`
	Text           string `json:"text"`
	AgentID        *int64 `json:"agentId,omitempty"`
}

// SendMediaCommand is an agent's outbound media message. Media carries a URL
// or base64 body; MediaType is the vendor kind (image, video, document).
type SendMediaCommand struct {
	ConversationID int64  `json:"conversationId"`
	MediaType      string `json:"mediaType"`
	MimeType       string `json:"mimeType,omitempty"`
	Media          string `json:"media"`
	Caption        string `json:"caption,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	AgentID        *int64 `json:"agentId,omitempty"`
}

// SendAudioCommand is an agent's outbound voice note.
type SendAudioCommand struct {
	ConversationID int64  `json:"conversationId"`
	Audio          string `json:"audio"`
	AgentID        *int64 `json:"agentId,omitempty"`
}

// SendService executes agent-originated actions against the gateway and
// records their local shadow.
type SendService struct {
	store   Store
	gateway gateway.Client
	pub     Publisher
	logger  *logrus.Logger
}

// NewSendService wires the outbound path. All dependencies are required.
func NewSendService(store Store, gw gateway.Client, pub Publisher, logger *logrus.Logger) (*SendService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &SendService{store: store, gateway: gw, pub: pub, logger: logger}, nil
}

// sendTarget resolves everything an outbound call needs: the conversation,
// its CONNECTED instance, and the contact address.
type sendTarget struct {
	conv    *models.Conversation
	inst    *models.Instance
	contact *models.Contact
}

// number returns the vendor addressing for the contact. Groups are addressed
// by their full identifier, individuals by phone number.
func (t *sendTarget) number() string {
	if t.contact.IsGroup {
		return t.contact.RemoteJID
	}
	return t.contact.Phone
}

func (s *SendService) resolveTarget(ctx context.Context, conversationID int64) (*sendTarget, error) {
	conv, err := s.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found")
	}

	inst, err := s.store.GetInstanceByID(ctx, conv.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "instance not found")
	}
	if inst.Status != models.InstanceConnected {
		return nil, apperrors.New(apperrors.ErrCodePrecondition, "instance is not connected").
			WithContext("instance", inst.Name).
			WithContext("status", inst.Status)
	}

	contact, err := s.store.GetContactByID(ctx, conv.ContactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "contact not found")
	}

	return &sendTarget{conv: conv, inst: inst, contact: contact}, nil
}

// SendText delivers a text message and records it.
func (s *SendService) SendText(ctx context.Context, cmd SendTextCommand) (*models.Message, error) {
	if cmd.Text == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "text is required")
	}

	target, err := s.resolveTarget(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.SendText(ctx, target.inst.Name, target.inst.Token, gateway.SendTextRequest{
		Number: target.number(),
		Text:   cmd.Text,
	})
	if err != nil {
		return nil, err
	}

	return s.recordOutbound(ctx, target, &models.Message{
		Type:    models.MessageText,
		Content: cmd.Text,
		AgentID: cmd.AgentID,
	}, resp)
}

// SendMedia delivers a media message and records it.
func (s *SendService) SendMedia(ctx context.Context, cmd SendMediaCommand) (*models.Message, error) {
	if cmd.Media == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "media is required")
	}

	msgType, ok := mediaTypeFor(cmd.MediaType)
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "unsupported media type").
			WithContext("mediaType", cmd.MediaType)
	}

	target, err := s.resolveTarget(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.SendMedia(ctx, target.inst.Name, target.inst.Token, gateway.SendMediaRequest{
		Number:    target.number(),
		MediaType: cmd.MediaType,
		MimeType:  cmd.MimeType,
		Media:     cmd.Media,
		Caption:   cmd.Caption,
		FileName:  cmd.FileName,
	})
	if err != nil {
		return nil, err
	}

	return s.recordOutbound(ctx, target, &models.Message{
		Type:    msgType,
		Content: cmd.Caption,
		AgentID: cmd.AgentID,
		Media: &models.MediaRef{
			MimeType: cmd.MimeType,
			FileName: cmd.FileName,
		},
	}, resp)
}

// SendAudio delivers a voice note and records it.
func (s *SendService) SendAudio(ctx context.Context, cmd SendAudioCommand) (*models.Message, error) {
	if cmd.Audio == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "audio is required")
	}

	target, err := s.resolveTarget(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.SendAudio(ctx, target.inst.Name, target.inst.Token, gateway.SendAudioRequest{
		Number: target.number(),
		Audio:  cmd.Audio,
	})
	if err != nil {
		return nil, err
	}

	return s.recordOutbound(ctx, target, &models.Message{
		Type:    models.MessageAudio,
		AgentID: cmd.AgentID,
	}, resp)
}

func mediaTypeFor(vendorKind string) (models.MessageType, bool) {
	switch vendorKind {
	case "image":
		return models.MessageImage, true
	case "video":
		return models.MessageVideo, true
	case "document":
		return models.MessageDocument, true
	case "sticker":
		return models.MessageSticker, true
	}
	return "", false
}

// recordOutbound persists the agent message, updates the conversation
// aggregate, and fans out. A gateway that omits the message key gets a
// locally generated id so the row is still unique.
func (s *SendService) recordOutbound(ctx context.Context, target *sendTarget, msg *models.Message, resp *gateway.SendResponse) (*models.Message, error) {
	externalID := resp.Key.ID
	if externalID == "" {
		externalID = "local-" + uuid.NewString()
	}

	msg.InstanceID = target.inst.ID
	msg.ConversationID = target.conv.ID
	msg.ExternalID = externalID
	msg.Status = models.StatusSent
	msg.FromAgent = true
	msg.SentAt = time.Now().UTC()

	stored, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.ApplyOutboundMessage(ctx, target.conv.ID, stored.Preview(), stored.SentAt)
	if err != nil {
		return nil, err
	}

	s.pub.PublishTopic(realtime.ConversationTopic(conv.ID), EventMessageNew, stored)
	s.pub.PublishGlobal(EventMessageNew, &MessageNotification{
		Message:        stored,
		Contact:        target.contact,
		ContactName:    target.contact.DisplayName(),
		ConversationID: conv.ID,
	})
	s.pub.PublishGlobal(EventConversationUpdate, conv)
	metrics.IncrementCounter("messages_sent_total", map[string]string{
		"type": string(stored.Type),
	}, "Agent messages delivered to the gateway")

	s.logger.WithFields(logrus.Fields{
		LogFieldInstance:     target.inst.Name,
		LogFieldConversation: conv.ID,
		"type":               stored.Type,
	}).Info("Agent message sent")
	return stored, nil
}

// MarkConversationRead flips vendor read receipts for all unread inbound
// messages, zeroes the unread counter, and fans out the refreshed aggregate.
func (s *SendService) MarkConversationRead(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	target, err := s.resolveTarget(ctx, conversationID)
	if err != nil {
		// Read receipts are best-effort; a disconnected instance still gets
		// the local counters cleared.
		if apperrors.GetCode(err) != apperrors.ErrCodePrecondition {
			return nil, err
		}
		target = nil
	}

	if target != nil {
		unread, err := s.store.ListUnreadInbound(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		keys := make([]models.MessageKey, 0, len(unread))
		for _, m := range unread {
			keys = append(keys, models.MessageKey{
				RemoteJID: target.contact.RemoteJID,
				FromMe:    false,
				ID:        m.ExternalID,
			})
		}
		if err := s.gateway.MarkRead(ctx, target.inst.Name, target.inst.Token, keys); err != nil {
			s.logger.WithError(err).Warn("Vendor read receipt failed, clearing local state anyway")
		}
	}

	if _, err := s.store.MarkInboundRead(ctx, conversationID); err != nil {
		return nil, err
	}
	if err := s.store.ResetUnread(ctx, conversationID); err != nil {
		return nil, err
	}

	conv, err := s.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found")
	}

	s.pub.PublishGlobal(EventConversationUpdate, conv)
	return conv, nil
}

// SyncHistory pulls one page of vendor-side history for the conversation and
// stores the records this system has not seen. Backfilled rows are history,
// not new activity: aggregates and unread counters stay untouched and nothing
// is fanned out.
func (s *SendService) SyncHistory(ctx context.Context, conversationID int64, page int) (int, error) {
	target, err := s.resolveTarget(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if page <= 0 {
		page = 1
	}

	resp, err := s.gateway.FetchChatHistory(ctx, target.inst.Name, target.inst.Token, target.contact.RemoteJID, page)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, rec := range resp.Messages.Records {
		if rec.Key.ID == "" {
			continue
		}
		existing, err := s.store.GetMessageByExternalID(ctx, target.inst.ID, rec.Key.ID)
		if err != nil {
			return imported, err
		}
		if existing != nil {
			continue
		}

		normalized := rec.Message.Normalize()
		sentAt := time.Unix(rec.MessageTimestamp, 0).UTC()
		if rec.MessageTimestamp == 0 {
			sentAt = time.Now().UTC()
		}

		msg := &models.Message{
			InstanceID:     target.inst.ID,
			ConversationID: target.conv.ID,
			ExternalID:     rec.Key.ID,
			Type:           normalized.Type,
			Content:        normalized.Content,
			Media:          normalized.Media,
			FromAgent:      rec.Key.FromMe,
			SentAt:         sentAt,
		}
		if normalized.QuotedID != "" {
			msg.QuotedExternalID = &normalized.QuotedID
		}
		if rec.Key.FromMe {
			msg.Status = models.StatusSent
		} else {
			msg.Status = models.StatusDelivered
		}

		if _, err := s.store.CreateMessage(ctx, msg); err != nil {
			if errors.Is(err, database.ErrDuplicateMessage) {
				continue
			}
			return imported, err
		}
		imported++
	}

	metrics.AddToCounter("messages_backfilled_total", float64(imported), nil, "Messages imported from vendor history")
	s.logger.WithFields(logrus.Fields{
		LogFieldInstance:     target.inst.Name,
		LogFieldConversation: target.conv.ID,
		"imported":           imported,
		"page":               page,
	}).Info("Vendor history synced")
	return imported, nil
}

// SendTyping passes a typing indicator through to the contact. Purely
// ephemeral; nothing is stored.
func (s *SendService) SendTyping(ctx context.Context, conversationID int64, durationMs int) error {
	target, err := s.resolveTarget(ctx, conversationID)
	if err != nil {
		return err
	}
	return s.gateway.SendPresence(ctx, target.inst.Name, target.inst.Token, gateway.SendPresenceRequest{
		Number:   target.number(),
		Presence: "composing",
		Delay:    durationMs,
	})
}
