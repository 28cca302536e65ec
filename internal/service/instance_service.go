package service

import (
	"context"
	"errors"
	"fmt"

	"wadesk/internal/database"
	apperrors "wadesk/internal/errors"
	"wadesk/internal/models"
	"wadesk/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// InstanceService manages gateway connections: registration, pairing,
// disconnects, and removal.
type InstanceService struct {
	store   Store
	gateway gateway.Client
	pub     Publisher
	logger  *logrus.Logger
}

// NewInstanceService wires instance administration. All dependencies are
// required.
func NewInstanceService(store Store, gw gateway.Client, pub Publisher, logger *logrus.Logger) (*InstanceService, error) {
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
	return &InstanceService{store: store, gateway: gw, pub: pub, logger: logger}, nil
}

// Create registers a new instance in DISCONNECTED state.
func (s *InstanceService) Create(ctx context.Context, name, token string) (*models.Instance, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "instance name is required")
	}

	inst, err := s.store.CreateInstance(ctx, name, token)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateRow) {
			return nil, apperrors.New(apperrors.ErrCodeConflict, "instance name already registered").
				WithContext("name", name)
		}
		return nil, err
	}

	s.logger.WithField(LogFieldInstance, name).Info("Instance registered")
	return inst, nil
}

// List returns all registered instances.
func (s *InstanceService) List(ctx context.Context) ([]*models.Instance, error) {
	return s.store.ListInstances(ctx)
}

// Get returns one instance by id.
func (s *InstanceService) Get(ctx context.Context, id int64) (*models.Instance, error) {
	inst, err := s.store.GetInstanceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "instance not found")
	}
	return inst, nil
}

// Connect initiates vendor-side pairing and stores the returned payload.
// The terminal CONNECTED state arrives later through the connection webhook.
func (s *InstanceService) Connect(ctx context.Context, id int64) (*models.Instance, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.ConnectInstance(ctx, inst.Name, inst.Token)
	if err != nil {
		return nil, err
	}

	if payload := resp.QRPayload(); payload != "" {
		if err := s.store.UpdateInstanceQRCode(ctx, id, payload); err != nil {
			return nil, err
		}
		s.pub.PublishGlobal(EventInstanceQRCode, map[string]interface{}{
			"instanceId": inst.ID,
			"name":       inst.Name,
			"qrcode":     payload,
		})
	} else {
		if err := s.store.UpdateInstanceStatus(ctx, id, models.InstanceConnecting); err != nil {
			return nil, err
		}
	}

	return s.Get(ctx, id)
}

// Disconnect logs the instance out of the vendor session.
func (s *InstanceService) Disconnect(ctx context.Context, id int64) (*models.Instance, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.Logout(ctx, inst.Name, inst.Token); err != nil {
		return nil, err
	}
	if err := s.store.UpdateInstanceStatus(ctx, id, models.InstanceDisconnected); err != nil {
		return nil, err
	}

	s.pub.PublishGlobal(EventInstanceStatus, map[string]interface{}{
		"instanceId": inst.ID,
		"name":       inst.Name,
		"status":     models.InstanceDisconnected,
	})
	s.logger.WithField(LogFieldInstance, inst.Name).Info("Instance disconnected")
	return s.Get(ctx, id)
}

// Delete removes the instance and everything scoped to it.
func (s *InstanceService) Delete(ctx context.Context, id int64) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	// Best-effort vendor logout; removal proceeds regardless.
	if err := s.gateway.Logout(ctx, inst.Name, inst.Token); err != nil {
		s.logger.WithError(err).WithField(LogFieldInstance, inst.Name).Warn("Vendor logout failed during delete")
	}

	if err := s.store.DeleteInstance(ctx, id); err != nil {
		return err
	}
	s.logger.WithField(LogFieldInstance, inst.Name).Info("Instance deleted")
	return nil
}
