package gateway

import "wadesk/internal/models"

// ClientConfig configures the vendor gateway HTTP client.
type ClientConfig struct {
	BaseURL    string `json:"baseUrl"`
	APIKey     string `json:"apiKey"`
	TimeoutSec int    `json:"timeoutSec"`
	RetryCount int    `json:"retryCount"`
}

// SendTextRequest is the payload for plain text sends.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendMediaRequest is the payload for media sends. Media carries a URL or
// base64 body depending on what the caller has.
type SendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype,omitempty"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// SendAudioRequest is the payload for voice-note sends.
type SendAudioRequest struct {
	Number string `json:"number"`
	Audio  string `json:"audio"`
}

// SendPresenceRequest is the payload for typing indicators.
type SendPresenceRequest struct {
	Number   string `json:"number"`
	Presence string `json:"presence"`
	Delay    int    `json:"delay,omitempty"`
}

// SendResponse is the vendor acknowledgement for a send. Key.ID is the
// vendor-assigned message id used for later status correlation.
type SendResponse struct {
	Key    models.MessageKey `json:"key"`
	Status string            `json:"status,omitempty"`
}

// ConnectionStateResponse reports an instance's session state.
type ConnectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// ConnectResponse carries the pairing payload for a disconnected instance.
type ConnectResponse struct {
	PairingCode string `json:"pairingCode,omitempty"`
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
}

// QRPayload returns the usable pairing payload, preferring the rendered image.
func (c *ConnectResponse) QRPayload() string {
	if c.Base64 != "" {
		return c.Base64
	}
	return c.Code
}

// MarkReadRequest flips vendor-side read receipts for the given messages.
type MarkReadRequest struct {
	ReadMessages []models.MessageKey `json:"readMessages"`
}

// FindMessagesRequest pages vendor-side history for one chat.
type FindMessagesRequest struct {
	Where struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
		} `json:"key"`
	} `json:"where"`
	Page   int `json:"page,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// HistoryRecord is one vendor-side history entry.
type HistoryRecord struct {
	Key              models.MessageKey      `json:"key"`
	PushName         string                 `json:"pushName,omitempty"`
	Message          *models.MessageContent `json:"message,omitempty"`
	MessageTimestamp int64                  `json:"messageTimestamp,omitempty"`
}

// FindMessagesResponse wraps paged history results.
type FindMessagesResponse struct {
	Messages struct {
		Total   int             `json:"total"`
		Pages   int             `json:"pages"`
		Page    int             `json:"currentPage"`
		Records []HistoryRecord `json:"records"`
	} `json:"messages"`
}
