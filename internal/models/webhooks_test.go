package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEventName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"dot separated lowercase", "messages.upsert", "MESSAGES_UPSERT"},
		{"already normalized", "MESSAGES_UPSERT", "MESSAGES_UPSERT"},
		{"mixed case", "Connection.Update", "CONNECTION_UPDATE"},
		{"multiple dots", "a.b.c", "A_B_C"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeEventName(tt.input))
		})
	}
}

func TestWebhookEnvelopeItems(t *testing.T) {
	t.Run("single object", func(t *testing.T) {
		env := WebhookEnvelope{Data: json.RawMessage(`{"key":{"id":"A"}}`)}
		items, err := env.Items()
		require.NoError(t, err)
		require.Len(t, items, 1)
	})

	t.Run("array", func(t *testing.T) {
		env := WebhookEnvelope{Data: json.RawMessage(`[{"a":1},{"b":2},{"c":3}]`)}
		items, err := env.Items()
		require.NoError(t, err)
		assert.Len(t, items, 3)
	})

	t.Run("null data", func(t *testing.T) {
		env := WebhookEnvelope{Data: json.RawMessage(`null`)}
		items, err := env.Items()
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("empty data", func(t *testing.T) {
		env := WebhookEnvelope{}
		items, err := env.Items()
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("malformed array", func(t *testing.T) {
		env := WebhookEnvelope{Data: json.RawMessage(`[{"a":1}`)}
		_, err := env.Items()
		assert.Error(t, err)
	})
}

func TestMessageContentNormalize(t *testing.T) {
	t.Run("nil content falls back to empty text", func(t *testing.T) {
		var mc *MessageContent
		n := mc.Normalize()
		assert.Equal(t, MessageText, n.Type)
		assert.Empty(t, n.Content)
	})

	t.Run("plain conversation text", func(t *testing.T) {
		mc := &MessageContent{Conversation: "Oi"}
		n := mc.Normalize()
		assert.Equal(t, MessageText, n.Type)
		assert.Equal(t, "Oi", n.Content)
	})

	t.Run("extended text with quote", func(t *testing.T) {
		mc := &MessageContent{ExtendedTextMessage: &ExtendedText{
			Text:        "replying",
			ContextInfo: &ContextInfo{StanzaID: "QUOTED1"},
		}}
		n := mc.Normalize()
		assert.Equal(t, MessageText, n.Type)
		assert.Equal(t, "replying", n.Content)
		assert.Equal(t, "QUOTED1", n.QuotedID)
	})

	t.Run("image beats plain text", func(t *testing.T) {
		mc := &MessageContent{
			Conversation: "ignored",
			ImageMessage: &MediaVariant{URL: "https://cdn/img.jpg", MimeType: "image/jpeg", Caption: "look"},
		}
		n := mc.Normalize()
		assert.Equal(t, MessageImage, n.Type)
		assert.Equal(t, "look", n.Content)
		require.NotNil(t, n.Media)
		assert.Equal(t, "https://cdn/img.jpg", n.Media.URL)
	})

	t.Run("extended text beats image", func(t *testing.T) {
		mc := &MessageContent{
			ExtendedTextMessage: &ExtendedText{Text: "caption text"},
			ImageMessage:        &MediaVariant{URL: "https://cdn/img.jpg"},
		}
		n := mc.Normalize()
		assert.Equal(t, MessageText, n.Type)
	})

	t.Run("media variants map to their types", func(t *testing.T) {
		cases := []struct {
			mc       *MessageContent
			expected MessageType
		}{
			{&MessageContent{VideoMessage: &MediaVariant{URL: "v"}}, MessageVideo},
			{&MessageContent{AudioMessage: &MediaVariant{URL: "a"}}, MessageAudio},
			{&MessageContent{DocumentMessage: &MediaVariant{URL: "d", FileName: "f.pdf"}}, MessageDocument},
			{&MessageContent{StickerMessage: &MediaVariant{URL: "s"}}, MessageSticker},
		}
		for _, c := range cases {
			n := c.mc.Normalize()
			assert.Equal(t, c.expected, n.Type)
			assert.NotNil(t, n.Media)
		}
	})

	t.Run("location renders structured content", func(t *testing.T) {
		mc := &MessageContent{LocationMessage: &LocationVariant{
			Latitude: -23.55, Longitude: -46.63, Name: "HQ",
		}}
		n := mc.Normalize()
		assert.Equal(t, MessageLocation, n.Type)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(n.Content), &decoded))
		assert.Equal(t, "HQ", decoded["name"])
	})

	t.Run("contact share", func(t *testing.T) {
		mc := &MessageContent{ContactMessage: &ContactVariant{DisplayName: "Ana", VCard: "BEGIN:VCARD"}}
		n := mc.Normalize()
		assert.Equal(t, MessageContact, n.Type)
		assert.Contains(t, n.Content, "Ana")
	})

	t.Run("reaction carries target id", func(t *testing.T) {
		mc := &MessageContent{ReactionMessage: &ReactionVariant{
			Text: "👍",
			Key:  &MessageKey{ID: "TARGET1"},
		}}
		n := mc.Normalize()
		assert.Equal(t, MessageReaction, n.Type)
		assert.Equal(t, "👍", n.Content)
		assert.Equal(t, "TARGET1", n.QuotedID)
	})

	t.Run("unrecognized payload falls back to empty text", func(t *testing.T) {
		mc := &MessageContent{}
		n := mc.Normalize()
		assert.Equal(t, MessageText, n.Type)
		assert.Empty(t, n.Content)
	})
}

func TestQRCodeUpdateDataPayload(t *testing.T) {
	var q QRCodeUpdateData
	q.QRCode.Code = "raw-code"
	assert.Equal(t, "raw-code", q.Payload())

	q.QRCode.Base64 = "data:image/png;base64,xxx"
	assert.Equal(t, "data:image/png;base64,xxx", q.Payload())
}
