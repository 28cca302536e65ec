package service

import (
	"context"
	"path/filepath"
	"testing"

	"wadesk/internal/database"
	apperrors "wadesk/internal/errors"
	"wadesk/internal/models"
	"wadesk/pkg/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupInstanceService(t *testing.T) (*InstanceService, *database.Database, *mockGateway, *capturePublisher) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gw := &mockGateway{}
	pub := &capturePublisher{}
	svc, err := NewInstanceService(db, gw, pub, testLogger())
	require.NoError(t, err)
	return svc, db, gw, pub
}

func TestInstanceCreate(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setupInstanceService(t)

	inst, err := svc.Create(ctx, "shop1", "tok")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceDisconnected, inst.Status)

	_, err = svc.Create(ctx, "shop1", "other")
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))

	_, err = svc.Create(ctx, "", "tok")
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}

func TestInstanceConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("pairing payload stored and fanned out", func(t *testing.T) {
		svc, _, gw, pub := setupInstanceService(t)
		created, err := svc.Create(ctx, "shop1", "tok")
		require.NoError(t, err)

		gw.On("ConnectInstance", mock.Anything, "shop1", "tok").
			Return(&gateway.ConnectResponse{Base64: "data:image/png;base64,AAA"}, nil)

		inst, err := svc.Connect(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceQRCode, inst.Status)
		require.NotNil(t, inst.QRCode)
		assert.Equal(t, "data:image/png;base64,AAA", *inst.QRCode)
		assert.Len(t, pub.globalEvents(EventInstanceQRCode), 1)
	})

	t.Run("no payload means already pairing", func(t *testing.T) {
		svc, _, gw, pub := setupInstanceService(t)
		created, err := svc.Create(ctx, "shop1", "tok")
		require.NoError(t, err)

		gw.On("ConnectInstance", mock.Anything, "shop1", "tok").
			Return(&gateway.ConnectResponse{}, nil)

		inst, err := svc.Connect(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceConnecting, inst.Status)
		assert.Empty(t, pub.globalEvents(EventInstanceQRCode))
	})

	t.Run("unknown instance", func(t *testing.T) {
		svc, _, _, _ := setupInstanceService(t)
		_, err := svc.Connect(ctx, 9999)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestInstanceDisconnect(t *testing.T) {
	ctx := context.Background()
	svc, db, gw, pub := setupInstanceService(t)

	created, err := svc.Create(ctx, "shop1", "tok")
	require.NoError(t, err)
	require.NoError(t, db.UpdateInstanceStatus(ctx, created.ID, models.InstanceConnected))

	gw.On("Logout", mock.Anything, "shop1", "tok").Return(nil)

	inst, err := svc.Disconnect(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceDisconnected, inst.Status)
	assert.Len(t, pub.globalEvents(EventInstanceStatus), 1)
}

func TestInstanceDelete(t *testing.T) {
	ctx := context.Background()
	svc, db, gw, _ := setupInstanceService(t)

	created, err := svc.Create(ctx, "shop1", "tok")
	require.NoError(t, err)

	// Vendor logout failing must not block removal.
	gw.On("Logout", mock.Anything, "shop1", "tok").Return(assert.AnError)

	require.NoError(t, svc.Delete(ctx, created.ID))

	inst, err := db.GetInstanceByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, inst)
}
