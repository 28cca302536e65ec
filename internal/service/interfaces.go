package service

import (
	"context"
	"time"

	"wadesk/internal/models"
)

// Realtime event names pushed to subscribers and mirrored to the broker.
const (
	EventMessageNew         = "message:new"
	EventMessageUpdate      = "message:update"
	EventConversationUpdate = "conversation:update"
	EventInstanceStatus     = "instance:status"
	EventInstanceQRCode     = "instance:qrcode"
)

// MessageNotification is the globally broadcast shape for a newly stored
// message: the message plus enough context for a session that is not joined
// to the conversation topic to render it.
type MessageNotification struct {
	Message        *models.Message `json:"message"`
	Contact        *models.Contact `json:"contact"`
	ContactName    string          `json:"contactName"`
	ConversationID int64           `json:"conversationId"`
}

// Store is the persistence surface the services depend on. The sqlite
// database implements it; tests substitute mocks.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, name, token string) (*models.Instance, error)
	GetInstanceByName(ctx context.Context, name string) (*models.Instance, error)
	GetInstanceByID(ctx context.Context, id int64) (*models.Instance, error)
	ListInstances(ctx context.Context) ([]*models.Instance, error)
	UpdateInstanceStatus(ctx context.Context, id int64, status models.InstanceStatus) error
	UpdateInstanceQRCode(ctx context.Context, id int64, qrcode string) error
	DeleteInstance(ctx context.Context, id int64) error

	// Contacts
	GetContactByRemoteJID(ctx context.Context, instanceID int64, remoteJID string) (*models.Contact, error)
	GetContactByID(ctx context.Context, id int64) (*models.Contact, error)
	CreateContact(ctx context.Context, contact *models.Contact) (*models.Contact, error)
	UpdateContactName(ctx context.Context, id int64, name string) error

	// Conversations
	GetConversationByContact(ctx context.Context, instanceID, contactID int64) (*models.Conversation, error)
	GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error)
	CreateConversation(ctx context.Context, instanceID, contactID int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, status models.ConversationStatus) ([]*models.Conversation, error)
	ApplyInboundMessage(ctx context.Context, conversationID int64, preview string, sentAt time.Time) (*models.Conversation, error)
	ApplyOutboundMessage(ctx context.Context, conversationID int64, preview string, sentAt time.Time) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, id int64, patch models.ConversationPatch) (*models.Conversation, error)
	ResetUnread(ctx context.Context, conversationID int64) error

	// Messages
	GetMessageByExternalID(ctx context.Context, instanceID int64, externalID string) (*models.Message, error)
	GetMessageByID(ctx context.Context, id int64) (*models.Message, error)
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, id int64, status models.MessageStatus) error
	ListMessagesByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]*models.Message, error)
	ListUnreadInbound(ctx context.Context, conversationID int64) ([]*models.Message, error)
	MarkInboundRead(ctx context.Context, conversationID int64) (int64, error)
	SoftDeleteMessage(ctx context.Context, id int64) error

	// Labels
	CreateLabel(ctx context.Context, name, color string) (*models.Label, error)
	ListLabels(ctx context.Context) ([]*models.Label, error)
	AssignLabel(ctx context.Context, conversationID, labelID int64) error
	RemoveLabel(ctx context.Context, conversationID, labelID int64) error
	ListLabelsByConversation(ctx context.Context, conversationID int64) ([]*models.Label, error)
}

// Publisher is the fan-out surface. The realtime hub implements it; handlers
// never talk to the hub type directly so tests can observe publishes.
type Publisher interface {
	PublishTopic(topic, event string, payload interface{})
	PublishGlobal(event string, payload interface{})
}
