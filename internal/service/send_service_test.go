package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"wadesk/internal/database"
	apperrors "wadesk/internal/errors"
	"wadesk/internal/models"
	"wadesk/pkg/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SendText(ctx context.Context, instance, token string, req gateway.SendTextRequest) (*gateway.SendResponse, error) {
	args := m.Called(ctx, instance, token, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*gateway.SendResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) SendMedia(ctx context.Context, instance, token string, req gateway.SendMediaRequest) (*gateway.SendResponse, error) {
	args := m.Called(ctx, instance, token, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*gateway.SendResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) SendAudio(ctx context.Context, instance, token string, req gateway.SendAudioRequest) (*gateway.SendResponse, error) {
	args := m.Called(ctx, instance, token, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*gateway.SendResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) SendPresence(ctx context.Context, instance, token string, req gateway.SendPresenceRequest) error {
	return m.Called(ctx, instance, token, req).Error(0)
}

func (m *mockGateway) ConnectInstance(ctx context.Context, instance, token string) (*gateway.ConnectResponse, error) {
	args := m.Called(ctx, instance, token)
	if resp := args.Get(0); resp != nil {
		return resp.(*gateway.ConnectResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) ConnectionState(ctx context.Context, instance, token string) (*gateway.ConnectionStateResponse, error) {
	args := m.Called(ctx, instance, token)
	if resp := args.Get(0); resp != nil {
		return resp.(*gateway.ConnectionStateResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Logout(ctx context.Context, instance, token string) error {
	return m.Called(ctx, instance, token).Error(0)
}

func (m *mockGateway) MarkRead(ctx context.Context, instance, token string, keys []models.MessageKey) error {
	return m.Called(ctx, instance, token, keys).Error(0)
}

func (m *mockGateway) FetchChatHistory(ctx context.Context, instance, token string, remoteJID string, page int) (*gateway.FindMessagesResponse, error) {
	args := m.Called(ctx, instance, token, remoteJID, page)
	if resp := args.Get(0); resp != nil {
		return resp.(*gateway.FindMessagesResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type sendFixture struct {
	svc  *SendService
	db   *database.Database
	gw   *mockGateway
	pub  *capturePublisher
	inst *models.Instance
	conv *models.Conversation
}

func setupSendService(t *testing.T, instStatus models.InstanceStatus) *sendFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	inst, err := db.CreateInstance(ctx, "shop1", "inst-token")
	require.NoError(t, err)
	require.NoError(t, db.UpdateInstanceStatus(ctx, inst.ID, instStatus))
	inst, err = db.GetInstanceByID(ctx, inst.ID)
	require.NoError(t, err)

	contact, err := db.CreateContact(ctx, &models.Contact{
		InstanceID: inst.ID,
		RemoteJID:  "5511999887766@s.whatsapp.net",
		Name:       "Ana",
		Phone:      "5511999887766",
	})
	require.NoError(t, err)

	conv, err := db.CreateConversation(ctx, inst.ID, contact.ID)
	require.NoError(t, err)

	gw := &mockGateway{}
	pub := &capturePublisher{}
	svc, err := NewSendService(db, gw, pub, testLogger())
	require.NoError(t, err)

	return &sendFixture{svc: svc, db: db, gw: gw, pub: pub, inst: inst, conv: conv}
}

func TestSendText(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path records and fans out", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		f.gw.On("SendText", mock.Anything, "shop1", "inst-token", gateway.SendTextRequest{
			Number: "5511999887766",
			Text:   "hello",
		}).Return(&gateway.SendResponse{Key: models.MessageKey{ID: "VENDOR1"}}, nil)

		msg, err := f.svc.SendText(ctx, SendTextCommand{ConversationID: f.conv.ID, Text: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "VENDOR1", msg.ExternalID)
		assert.Equal(t, models.StatusSent, msg.Status)
		assert.True(t, msg.FromAgent)

		conv, err := f.db.GetConversationByID(ctx, f.conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", conv.LastMessage)
		assert.Zero(t, conv.UnreadCount)

		assert.Len(t, f.pub.topicEvents(EventMessageNew), 1)
		assert.Len(t, f.pub.globalEvents(EventConversationUpdate), 1)

		global := f.pub.globalEvents(EventMessageNew)
		require.Len(t, global, 1)
		notif, ok := global[0].Payload.(*MessageNotification)
		require.True(t, ok)
		assert.Equal(t, "VENDOR1", notif.Message.ExternalID)
		assert.Equal(t, "Ana", notif.ContactName)
		assert.Equal(t, f.conv.ID, notif.ConversationID)
		f.gw.AssertExpectations(t)
	})

	t.Run("missing vendor key gets a local id", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		f.gw.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(&gateway.SendResponse{}, nil)

		msg, err := f.svc.SendText(ctx, SendTextCommand{ConversationID: f.conv.ID, Text: "hello"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(msg.ExternalID, "local-"))
	})

	t.Run("disconnected instance fails the precondition", func(t *testing.T) {
		f := setupSendService(t, models.InstanceDisconnected)

		_, err := f.svc.SendText(ctx, SendTextCommand{ConversationID: f.conv.ID, Text: "hello"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodePrecondition, apperrors.GetCode(err))
		f.gw.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty text rejected", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		_, err := f.svc.SendText(ctx, SendTextCommand{ConversationID: f.conv.ID})
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})

	t.Run("unknown conversation", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		_, err := f.svc.SendText(ctx, SendTextCommand{ConversationID: 9999, Text: "hello"})
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("gateway failure does not store a message", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		f.gw.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.New(apperrors.ErrCodeUpstream, "gateway request failed"))

		_, err := f.svc.SendText(ctx, SendTextCommand{ConversationID: f.conv.ID, Text: "hello"})
		require.Error(t, err)

		messages, err := f.db.ListMessagesByConversation(ctx, f.conv.ID, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestSendMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("image send", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		f.gw.On("SendMedia", mock.Anything, "shop1", "inst-token", mock.Anything).
			Return(&gateway.SendResponse{Key: models.MessageKey{ID: "MEDIA1"}}, nil)

		msg, err := f.svc.SendMedia(ctx, SendMediaCommand{
			ConversationID: f.conv.ID,
			MediaType:      "image",
			MimeType:       "image/jpeg",
			Media:          "https://cdn/img.jpg",
			Caption:        "the receipt",
		})
		require.NoError(t, err)
		assert.Equal(t, models.MessageImage, msg.Type)

		conv, err := f.db.GetConversationByID(ctx, f.conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "[image] the receipt", conv.LastMessage)
	})

	t.Run("unsupported media type rejected before any call", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		_, err := f.svc.SendMedia(ctx, SendMediaCommand{
			ConversationID: f.conv.ID,
			MediaType:      "hologram",
			Media:          "x",
		})
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
		f.gw.AssertNotCalled(t, "SendMedia", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMarkConversationRead(t *testing.T) {
	ctx := context.Background()

	seedInbound := func(t *testing.T, f *sendFixture, ids ...string) {
		t.Helper()
		for _, id := range ids {
			_, err := f.db.CreateMessage(ctx, &models.Message{
				InstanceID:     f.inst.ID,
				ConversationID: f.conv.ID,
				ExternalID:     id,
				Type:           models.MessageText,
				Content:        id,
				Status:         models.StatusDelivered,
				SentAt:         f.inst.CreatedAt,
			})
			require.NoError(t, err)
			_, err = f.db.ApplyInboundMessage(ctx, f.conv.ID, id, f.inst.CreatedAt)
			require.NoError(t, err)
		}
	}

	t.Run("clears counters and sends vendor receipts", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		seedInbound(t, f, "M1", "M2", "M3")

		f.gw.On("MarkRead", mock.Anything, "shop1", "inst-token", mock.MatchedBy(func(keys []models.MessageKey) bool {
			return len(keys) == 3
		})).Return(nil)

		conv, err := f.svc.MarkConversationRead(ctx, f.conv.ID)
		require.NoError(t, err)
		assert.Zero(t, conv.UnreadCount)

		unread, err := f.db.ListUnreadInbound(ctx, f.conv.ID)
		require.NoError(t, err)
		assert.Empty(t, unread)
		assert.Len(t, f.pub.globalEvents(EventConversationUpdate), 1)
		f.gw.AssertExpectations(t)
	})

	t.Run("vendor receipt failure still clears local state", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		seedInbound(t, f, "M1")
		f.gw.On("MarkRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(apperrors.New(apperrors.ErrCodeUpstream, "gateway request failed"))

		conv, err := f.svc.MarkConversationRead(ctx, f.conv.ID)
		require.NoError(t, err)
		assert.Zero(t, conv.UnreadCount)
	})

	t.Run("disconnected instance clears local state without receipts", func(t *testing.T) {
		f := setupSendService(t, models.InstanceDisconnected)
		seedInbound(t, f, "M1")

		conv, err := f.svc.MarkConversationRead(ctx, f.conv.ID)
		require.NoError(t, err)
		assert.Zero(t, conv.UnreadCount)
		f.gw.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSyncHistory(t *testing.T) {
	ctx := context.Background()

	historyResponse := func(records ...gateway.HistoryRecord) *gateway.FindMessagesResponse {
		resp := &gateway.FindMessagesResponse{}
		resp.Messages.Total = len(records)
		resp.Messages.Pages = 1
		resp.Messages.Records = records
		return resp
	}

	historyRecord := func(id, text string, fromMe bool, ts int64) gateway.HistoryRecord {
		return gateway.HistoryRecord{
			Key:              models.MessageKey{RemoteJID: "5511999887766@s.whatsapp.net", FromMe: fromMe, ID: id},
			Message:          &models.MessageContent{Conversation: text},
			MessageTimestamp: ts,
		}
	}

	t.Run("imports unseen records without touching aggregates", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		f.gw.On("FetchChatHistory", mock.Anything, "shop1", "inst-token", "5511999887766@s.whatsapp.net", 1).
			Return(historyResponse(
				historyRecord("H1", "old question", false, 1690000000),
				historyRecord("H2", "old answer", true, 1690000100),
			), nil)

		imported, err := f.svc.SyncHistory(ctx, f.conv.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, imported)

		inbound, err := f.db.GetMessageByExternalID(ctx, f.inst.ID, "H1")
		require.NoError(t, err)
		require.NotNil(t, inbound)
		assert.Equal(t, models.StatusDelivered, inbound.Status)
		assert.False(t, inbound.FromAgent)

		outbound, err := f.db.GetMessageByExternalID(ctx, f.inst.ID, "H2")
		require.NoError(t, err)
		require.NotNil(t, outbound)
		assert.Equal(t, models.StatusSent, outbound.Status)
		assert.True(t, outbound.FromAgent)

		// Backfill is history, not activity: no unread, no preview, no events.
		conv, err := f.db.GetConversationByID(ctx, f.conv.ID)
		require.NoError(t, err)
		assert.Zero(t, conv.UnreadCount)
		assert.Empty(t, conv.LastMessage)
		assert.Empty(t, f.pub.topicEvents(EventMessageNew))
		assert.Empty(t, f.pub.globalEvents(EventMessageNew))
	})

	t.Run("already stored records are skipped", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		f.gw.On("FetchChatHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(historyResponse(historyRecord("H1", "old question", false, 1690000000)), nil).Twice()

		imported, err := f.svc.SyncHistory(ctx, f.conv.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, imported)

		imported, err = f.svc.SyncHistory(ctx, f.conv.ID, 1)
		require.NoError(t, err)
		assert.Zero(t, imported)
	})

	t.Run("records without a key id are ignored", func(t *testing.T) {
		f := setupSendService(t, models.InstanceConnected)
		f.gw.On("FetchChatHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(historyResponse(historyRecord("", "ghost", false, 0)), nil)

		imported, err := f.svc.SyncHistory(ctx, f.conv.ID, 1)
		require.NoError(t, err)
		assert.Zero(t, imported)
	})

	t.Run("disconnected instance fails the precondition", func(t *testing.T) {
		f := setupSendService(t, models.InstanceDisconnected)

		_, err := f.svc.SyncHistory(ctx, f.conv.ID, 1)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodePrecondition, apperrors.GetCode(err))
		f.gw.AssertNotCalled(t, "FetchChatHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSendTyping(t *testing.T) {
	ctx := context.Background()
	f := setupSendService(t, models.InstanceConnected)

	f.gw.On("SendPresence", mock.Anything, "shop1", "inst-token", gateway.SendPresenceRequest{
		Number:   "5511999887766",
		Presence: "composing",
		Delay:    1200,
	}).Return(nil)

	require.NoError(t, f.svc.SendTyping(ctx, f.conv.ID, 1200))
	f.gw.AssertExpectations(t)
}
