package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Normalized webhook event names. Vendors emit both dot-separated lowercase
// and upper-snake-case; normalization maps both onto these.
const (
	EventMessagesUpsert   = "MESSAGES_UPSERT"
	EventMessagesUpdate   = "MESSAGES_UPDATE"
	EventConnectionUpdate = "CONNECTION_UPDATE"
	EventQRCodeUpdated    = "QRCODE_UPDATED"
	EventQRCodeUpdate     = "QRCODE_UPDATE"
	EventContactsUpsert   = "CONTACTS_UPSERT"
	EventContactsUpdate   = "CONTACTS_UPDATE"
)

// NormalizeEventName uppercases and maps '.' to '_' so "messages.upsert" and
// "MESSAGES_UPSERT" dispatch identically.
func NormalizeEventName(event string) string {
	return strings.ToUpper(strings.ReplaceAll(event, ".", "_"))
}

// WebhookEnvelope is the outer shape of every gateway notification. Data may
// be a single object or an array of them.
type WebhookEnvelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// Items splits the envelope data into raw per-item payloads, treating a
// single object as a one-element sequence.
func (e *WebhookEnvelope) Items() ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(e.Data, " \t\r\n")
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(e.Data, &items); err != nil {
			return nil, fmt.Errorf("failed to decode data array: %w", err)
		}
		return items, nil
	}
	return []json.RawMessage{e.Data}, nil
}

// MessageKey identifies a message within one gateway instance.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageUpsertItem is one inbound message notification.
type MessageUpsertItem struct {
	Key              MessageKey      `json:"key"`
	PushName         string          `json:"pushName,omitempty"`
	Message          *MessageContent `json:"message,omitempty"`
	MessageTimestamp int64           `json:"messageTimestamp,omitempty"`
}

// MessageContent is the vendor's bag of mutually-exclusive message variants.
// Exactly one variant is expected per payload; Normalize walks the precedence
// order once and returns a single concrete result.
type MessageContent struct {
	Conversation        string           `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText    `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaVariant    `json:"imageMessage,omitempty"`
	VideoMessage        *MediaVariant    `json:"videoMessage,omitempty"`
	AudioMessage        *MediaVariant    `json:"audioMessage,omitempty"`
	DocumentMessage     *MediaVariant    `json:"documentMessage,omitempty"`
	StickerMessage      *MediaVariant    `json:"stickerMessage,omitempty"`
	LocationMessage     *LocationVariant `json:"locationMessage,omitempty"`
	ContactMessage      *ContactVariant  `json:"contactMessage,omitempty"`
	ReactionMessage     *ReactionVariant `json:"reactionMessage,omitempty"`
}

type ExtendedText struct {
	Text        string       `json:"text"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// ContextInfo carries the quoted-message reference on text variants.
type ContextInfo struct {
	StanzaID string `json:"stanzaId,omitempty"`
}

type MediaVariant struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type LocationVariant struct {
	Latitude  float64 `json:"degreesLatitude"`
	Longitude float64 `json:"degreesLongitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type ContactVariant struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard,omitempty"`
}

type ReactionVariant struct {
	Text string      `json:"text"`
	Key  *MessageKey `json:"key,omitempty"`
}

// NormalizedMessage is the tagged-union result of classifying a vendor
// payload: one canonical type plus its content and optional references.
type NormalizedMessage struct {
	Type     MessageType
	Content  string
	Media    *MediaRef
	QuotedID string
}

// Normalize classifies the payload by walking the variant precedence order
// once. Rich variants win over bare text; the first match wins when more than
// one key is present. A payload with no recognized variant falls back to an
// empty TEXT message.
func (mc *MessageContent) Normalize() NormalizedMessage {
	if mc == nil {
		return NormalizedMessage{Type: MessageText}
	}

	switch {
	case mc.ExtendedTextMessage != nil:
		n := NormalizedMessage{Type: MessageText, Content: mc.ExtendedTextMessage.Text}
		if ci := mc.ExtendedTextMessage.ContextInfo; ci != nil {
			n.QuotedID = ci.StanzaID
		}
		return n
	case mc.ImageMessage != nil:
		return mediaNormalized(MessageImage, mc.ImageMessage)
	case mc.VideoMessage != nil:
		return mediaNormalized(MessageVideo, mc.VideoMessage)
	case mc.AudioMessage != nil:
		return mediaNormalized(MessageAudio, mc.AudioMessage)
	case mc.DocumentMessage != nil:
		return mediaNormalized(MessageDocument, mc.DocumentMessage)
	case mc.StickerMessage != nil:
		return mediaNormalized(MessageSticker, mc.StickerMessage)
	case mc.LocationMessage != nil:
		return NormalizedMessage{Type: MessageLocation, Content: locationDescriptor(mc.LocationMessage)}
	case mc.ContactMessage != nil:
		return NormalizedMessage{Type: MessageContact, Content: contactDescriptor(mc.ContactMessage)}
	case mc.ReactionMessage != nil:
		n := NormalizedMessage{Type: MessageReaction, Content: mc.ReactionMessage.Text}
		if mc.ReactionMessage.Key != nil {
			n.QuotedID = mc.ReactionMessage.Key.ID
		}
		return n
	case mc.Conversation != "":
		return NormalizedMessage{Type: MessageText, Content: mc.Conversation}
	default:
		return NormalizedMessage{Type: MessageText}
	}
}

func mediaNormalized(t MessageType, v *MediaVariant) NormalizedMessage {
	return NormalizedMessage{
		Type:    t,
		Content: v.Caption,
		Media: &MediaRef{
			URL:      v.URL,
			MimeType: v.MimeType,
			FileName: v.FileName,
		},
	}
}

// locationDescriptor renders the structured location content stored for
// LOCATION messages.
func locationDescriptor(l *LocationVariant) string {
	desc := struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name,omitempty"`
		Address   string  `json:"address,omitempty"`
	}{l.Latitude, l.Longitude, l.Name, l.Address}
	b, err := json.Marshal(desc)
	if err != nil {
		return fmt.Sprintf("%f,%f", l.Latitude, l.Longitude)
	}
	return string(b)
}

// contactDescriptor renders the structured contact-share content stored for
// CONTACT messages.
func contactDescriptor(c *ContactVariant) string {
	desc := struct {
		DisplayName string `json:"displayName"`
		VCard       string `json:"vcard,omitempty"`
	}{c.DisplayName, c.VCard}
	b, err := json.Marshal(desc)
	if err != nil {
		return c.DisplayName
	}
	return string(b)
}

// MessageUpdateItem is one delivery/read status notification.
type MessageUpdateItem struct {
	Key    MessageKey `json:"key"`
	Update struct {
		Status int `json:"status"`
	} `json:"update"`
}

// ConnectionUpdateData carries the tri-state vendor connection signal.
type ConnectionUpdateData struct {
	State string `json:"state"`
}

// QRCodeUpdateData carries the latest pairing payload.
type QRCodeUpdateData struct {
	QRCode struct {
		Code   string `json:"code,omitempty"`
		Base64 string `json:"base64,omitempty"`
	} `json:"qrcode"`
}

// Payload returns the pairing payload preferring the rendered base64 form.
func (q *QRCodeUpdateData) Payload() string {
	if q.QRCode.Base64 != "" {
		return q.QRCode.Base64
	}
	return q.QRCode.Code
}
