package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wadesk/internal/constants"
	apperrors "wadesk/internal/errors"
	"wadesk/internal/models"
	"wadesk/internal/retry"
)

// Client is the vendor gateway surface the services depend on. Per-instance
// calls carry the instance name and its API token; an empty token falls back
// to the client-wide key.
type Client interface {
	SendText(ctx context.Context, instance, token string, req SendTextRequest) (*SendResponse, error)
	SendMedia(ctx context.Context, instance, token string, req SendMediaRequest) (*SendResponse, error)
	SendAudio(ctx context.Context, instance, token string, req SendAudioRequest) (*SendResponse, error)
	SendPresence(ctx context.Context, instance, token string, req SendPresenceRequest) error
	ConnectInstance(ctx context.Context, instance, token string) (*ConnectResponse, error)
	ConnectionState(ctx context.Context, instance, token string) (*ConnectionStateResponse, error)
	Logout(ctx context.Context, instance, token string) error
	MarkRead(ctx context.Context, instance, token string, keys []models.MessageKey) error
	FetchChatHistory(ctx context.Context, instance, token string, remoteJID string, page int) (*FindMessagesResponse, error)
}

type httpClient struct {
	config  ClientConfig
	client  *http.Client
	backoff *retry.Backoff
}

// NewClient builds a gateway client from config, filling in defaults.
func NewClient(config ClientConfig) Client {
	timeout := config.TimeoutSec
	if timeout <= 0 {
		timeout = constants.DefaultGatewayTimeoutSec
	}
	retries := config.RetryCount
	if retries <= 0 {
		retries = constants.DefaultGatewayRetryCount
	}

	return &httpClient{
		config: config,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  retries,
			Jitter:       true,
		}),
	}
}

// transientError marks responses worth retrying.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func (c *httpClient) apiKey(token string) string {
	if token != "" {
		return token
	}
	return c.config.APIKey
}

// doRequest performs one JSON request with retry on network errors and 5xx
// responses. out may be nil when the caller ignores the body.
func (c *httpClient) doRequest(ctx context.Context, method, path, token string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal gateway payload")
		}
	}

	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build gateway request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", c.apiKey(token))

		resp, err := c.client.Do(req)
		if err != nil {
			return &transientError{err: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return &transientError{err: err}
		}

		if resp.StatusCode >= 500 {
			return &transientError{err: fmt.Errorf("gateway returned %d: %s", resp.StatusCode, respBody)}
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, respBody)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to decode gateway response: %w", err)
			}
		}
		return nil
	}

	err := c.backoff.RetryWithPredicate(ctx, op, func(err error) bool {
		_, transient := err.(*transientError)
		return transient
	})
	if err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeUpstream, "gateway request failed")
	}
	return nil
}

func (c *httpClient) SendText(ctx context.Context, instance, token string, req SendTextRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := c.doRequest(ctx, http.MethodPost, "/message/sendText/"+instance, token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) SendMedia(ctx context.Context, instance, token string, req SendMediaRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := c.doRequest(ctx, http.MethodPost, "/message/sendMedia/"+instance, token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) SendAudio(ctx context.Context, instance, token string, req SendAudioRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := c.doRequest(ctx, http.MethodPost, "/message/sendWhatsAppAudio/"+instance, token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) SendPresence(ctx context.Context, instance, token string, req SendPresenceRequest) error {
	return c.doRequest(ctx, http.MethodPost, "/chat/sendPresence/"+instance, token, req, nil)
}

func (c *httpClient) ConnectInstance(ctx context.Context, instance, token string) (*ConnectResponse, error) {
	var resp ConnectResponse
	if err := c.doRequest(ctx, http.MethodGet, "/instance/connect/"+instance, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) ConnectionState(ctx context.Context, instance, token string) (*ConnectionStateResponse, error) {
	var resp ConnectionStateResponse
	if err := c.doRequest(ctx, http.MethodGet, "/instance/connectionState/"+instance, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) Logout(ctx context.Context, instance, token string) error {
	return c.doRequest(ctx, http.MethodDelete, "/instance/logout/"+instance, token, nil, nil)
}

func (c *httpClient) MarkRead(ctx context.Context, instance, token string, keys []models.MessageKey) error {
	if len(keys) == 0 {
		return nil
	}
	return c.doRequest(ctx, http.MethodPost, "/chat/markMessageAsRead/"+instance, token, MarkReadRequest{ReadMessages: keys}, nil)
}

func (c *httpClient) FetchChatHistory(ctx context.Context, instance, token string, remoteJID string, page int) (*FindMessagesResponse, error) {
	req := FindMessagesRequest{Page: page}
	req.Where.Key.RemoteJID = remoteJID

	var resp FindMessagesResponse
	if err := c.doRequest(ctx, http.MethodPost, "/chat/findMessages/"+instance, token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
