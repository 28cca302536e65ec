package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"wadesk/internal/database"
	"wadesk/internal/models"
	"wadesk/internal/realtime"
	"wadesk/internal/service"
	"wadesk/pkg/gateway"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway satisfies gateway.Client with canned responses so server tests
// never touch the network.
type stubGateway struct{}

func (stubGateway) SendText(ctx context.Context, instance, token string, req gateway.SendTextRequest) (*gateway.SendResponse, error) {
	return &gateway.SendResponse{Key: models.MessageKey{ID: "STUB1"}}, nil
}

func (stubGateway) SendMedia(ctx context.Context, instance, token string, req gateway.SendMediaRequest) (*gateway.SendResponse, error) {
	return &gateway.SendResponse{Key: models.MessageKey{ID: "STUB2"}}, nil
}

func (stubGateway) SendAudio(ctx context.Context, instance, token string, req gateway.SendAudioRequest) (*gateway.SendResponse, error) {
	return &gateway.SendResponse{Key: models.MessageKey{ID: "STUB3"}}, nil
}

func (stubGateway) SendPresence(ctx context.Context, instance, token string, req gateway.SendPresenceRequest) error {
	return nil
}

func (stubGateway) ConnectInstance(ctx context.Context, instance, token string) (*gateway.ConnectResponse, error) {
	return &gateway.ConnectResponse{Base64: "data:image/png;base64,AAA"}, nil
}

func (stubGateway) ConnectionState(ctx context.Context, instance, token string) (*gateway.ConnectionStateResponse, error) {
	return &gateway.ConnectionStateResponse{}, nil
}

func (stubGateway) Logout(ctx context.Context, instance, token string) error { return nil }

func (stubGateway) MarkRead(ctx context.Context, instance, token string, keys []models.MessageKey) error {
	return nil
}

func (stubGateway) FetchChatHistory(ctx context.Context, instance, token string, remoteJID string, page int) (*gateway.FindMessagesResponse, error) {
	return &gateway.FindMessagesResponse{}, nil
}

type serverFixture struct {
	srv *httptest.Server
	db  *database.Database
	hub *realtime.Hub
}

func setupServer(t *testing.T, webhookSecret string) *serverFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := realtime.NewHub(logger)
	t.Cleanup(hub.Close)

	gw := stubGateway{}

	webhooks, err := service.NewWebhookService(db, hub, logger)
	require.NoError(t, err)
	sends, err := service.NewSendService(db, gw, hub, logger)
	require.NoError(t, err)
	conversations, err := service.NewConversationService(db, hub, logger)
	require.NoError(t, err)
	instances, err := service.NewInstanceService(db, gw, hub, logger)
	require.NoError(t, err)

	router := service.NewRouter(logger)
	webhooks.Register(router)

	cfg := &models.Config{
		Server: models.ServerConfig{
			Port:            "0",
			ReadTimeoutSec:  5,
			WriteTimeoutSec: 5,
			WebhookSecret:   webhookSecret,
		},
	}

	server := NewServer(cfg, router, hub, sends, conversations, instances, logger)
	srv := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(srv.Close)

	return &serverFixture{srv: srv, db: db, hub: hub}
}

func postJSON(t *testing.T, url string, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	f := setupServer(t, "")

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestWebhookEndpoint(t *testing.T) {
	payload := `{
		"event": "MESSAGES_UPSERT",
		"instance": "shop1",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "fromMe": false, "id": "MSG1"},
			"pushName": "Ana",
			"message": {"conversation": "Oi"},
			"messageTimestamp": 1700000000
		}
	}`

	t.Run("accepted and ingested without a secret", func(t *testing.T) {
		f := setupServer(t, "")
		_, err := f.db.CreateInstance(context.Background(), "shop1", "")
		require.NoError(t, err)

		resp := postJSON(t, f.srv.URL+"/webhook", payload, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]bool
		decodeBody(t, resp, &body)
		assert.True(t, body["received"])

		convs, err := f.db.ListConversations(context.Background(), "")
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, "Oi", convs[0].LastMessage)
	})

	t.Run("valid signature accepted", func(t *testing.T) {
		f := setupServer(t, "s3cret")
		_, err := f.db.CreateInstance(context.Background(), "shop1", "")
		require.NoError(t, err)

		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write([]byte(payload))
		sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

		resp := postJSON(t, f.srv.URL+"/webhook", payload, map[string]string{signatureHeader: sig})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		f := setupServer(t, "s3cret")

		resp := postJSON(t, f.srv.URL+"/webhook", payload, map[string]string{signatureHeader: "sha256=deadbeef"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		f := setupServer(t, "s3cret")

		resp := postJSON(t, f.srv.URL+"/webhook", payload, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("undecodable payload rejected", func(t *testing.T) {
		f := setupServer(t, "")

		resp := postJSON(t, f.srv.URL+"/webhook", "{not json", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown event acknowledged", func(t *testing.T) {
		f := setupServer(t, "")

		resp := postJSON(t, f.srv.URL+"/webhook", `{"event":"CALL_OFFER","instance":"shop1","data":{}}`, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestInstanceAPI(t *testing.T) {
	f := setupServer(t, "")

	resp := postJSON(t, f.srv.URL+"/api/instances", `{"name":"shop1","token":"tok"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var inst models.Instance
	decodeBody(t, resp, &inst)
	assert.Equal(t, "shop1", inst.Name)

	resp = postJSON(t, f.srv.URL+"/api/instances", `{"name":"shop1","token":"tok"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	listResp, err := http.Get(f.srv.URL + "/api/instances")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list []models.Instance
	decodeBody(t, listResp, &list)
	assert.Len(t, list, 1)
}

func TestSendMessageAPI(t *testing.T) {
	f := setupServer(t, "")
	ctx := context.Background()

	inst, err := f.db.CreateInstance(ctx, "shop1", "")
	require.NoError(t, err)
	require.NoError(t, f.db.UpdateInstanceStatus(ctx, inst.ID, models.InstanceConnected))
	contact, err := f.db.CreateContact(ctx, &models.Contact{
		InstanceID: inst.ID,
		RemoteJID:  "5511999887766@s.whatsapp.net",
		Phone:      "5511999887766",
	})
	require.NoError(t, err)
	conv, err := f.db.CreateConversation(ctx, inst.ID, contact.ID)
	require.NoError(t, err)

	url := f.srv.URL + "/api/conversations/" + strconv.FormatInt(conv.ID, 10) + "/messages"

	t.Run("text send", func(t *testing.T) {
		resp := postJSON(t, url, `{"type":"text","text":"hello"}`, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var msg models.Message
		decodeBody(t, resp, &msg)
		assert.Equal(t, "STUB1", msg.ExternalID)
		assert.True(t, msg.FromAgent)
	})

	t.Run("unsupported type", func(t *testing.T) {
		resp := postJSON(t, url, `{"type":"hologram"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		resp := postJSON(t, f.srv.URL+"/api/conversations/9999/messages", `{"text":"hello"}`, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("history sync", func(t *testing.T) {
		resp := postJSON(t, url+"/sync", `{"page":1}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]int
		decodeBody(t, resp, &body)
		assert.Zero(t, body["imported"])
	})
}
