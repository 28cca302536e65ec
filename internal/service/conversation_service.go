package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wadesk/internal/constants"
	"wadesk/internal/database"
	apperrors "wadesk/internal/errors"
	"wadesk/internal/models"

	"github.com/sirupsen/logrus"
)

// ConversationService covers the agent-facing inbox operations that do not
// touch the gateway.
type ConversationService struct {
	store  Store
	pub    Publisher
	logger *logrus.Logger
}

// NewConversationService wires the inbox operations. All dependencies are
// required.
func NewConversationService(store Store, pub Publisher, logger *logrus.Logger) (*ConversationService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &ConversationService{store: store, pub: pub, logger: logger}, nil
}

// List returns conversations, optionally filtered by lifecycle status.
func (s *ConversationService) List(ctx context.Context, status models.ConversationStatus) ([]*models.Conversation, error) {
	if status != "" && !models.ValidConversationStatus(status) {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "invalid conversation status").
			WithContext("status", status)
	}
	return s.store.ListConversations(ctx, status)
}

// Get returns one conversation by id.
func (s *ConversationService) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	conv, err := s.store.GetConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found")
	}
	return conv, nil
}

// Update applies agent-action mutations and fans out the refreshed aggregate.
func (s *ConversationService) Update(ctx context.Context, id int64, patch models.ConversationPatch) (*models.Conversation, error) {
	if patch.Status != nil && !models.ValidConversationStatus(*patch.Status) {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "invalid conversation status").
			WithContext("status", *patch.Status)
	}

	existing, err := s.store.GetConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found")
	}

	conv, err := s.store.UpdateConversation(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.pub.PublishGlobal(EventConversationUpdate, conv)
	s.logger.WithFields(logrus.Fields{
		LogFieldConversation: id,
	}).Info("Conversation updated")
	return conv, nil
}

// History pages stored messages oldest-first. Limit defaults to the standard
// page size.
func (s *ConversationService) History(ctx context.Context, conversationID int64, limit, offset int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = constants.DefaultHistoryPageSize
	}
	if offset < 0 {
		offset = 0
	}

	conv, err := s.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found")
	}

	return s.store.ListMessagesByConversation(ctx, conversationID, limit, offset)
}

// DeleteMessage soft-deletes a stored message. The row stays for audit; it
// just disappears from history listings.
func (s *ConversationService) DeleteMessage(ctx context.Context, messageID int64) error {
	msg, err := s.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperrors.New(apperrors.ErrCodeNotFound, "message not found")
	}
	return s.store.SoftDeleteMessage(ctx, messageID)
}

// CreateLabel registers a new label.
func (s *ConversationService) CreateLabel(ctx context.Context, name, color string) (*models.Label, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "label name is required")
	}
	label, err := s.store.CreateLabel(ctx, name, color)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateRow) {
			return nil, apperrors.New(apperrors.ErrCodeConflict, "label name already exists").
				WithContext("name", name)
		}
		return nil, err
	}
	return label, nil
}

// ListLabels returns all labels.
func (s *ConversationService) ListLabels(ctx context.Context) ([]*models.Label, error) {
	return s.store.ListLabels(ctx)
}

// AssignLabel attaches a label to a conversation.
func (s *ConversationService) AssignLabel(ctx context.Context, conversationID, labelID int64) error {
	conv, err := s.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return apperrors.New(apperrors.ErrCodeNotFound, "conversation not found")
	}
	return s.store.AssignLabel(ctx, conversationID, labelID)
}

// RemoveLabel detaches a label from a conversation.
func (s *ConversationService) RemoveLabel(ctx context.Context, conversationID, labelID int64) error {
	if err := s.store.RemoveLabel(ctx, conversationID, labelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrCodeNotFound, "label not assigned to conversation")
		}
		return err
	}
	return nil
}

// LabelsFor returns the labels attached to a conversation.
func (s *ConversationService) LabelsFor(ctx context.Context, conversationID int64) ([]*models.Label, error) {
	return s.store.ListLabelsByConversation(ctx, conversationID)
}
