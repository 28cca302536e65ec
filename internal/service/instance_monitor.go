package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wadesk/internal/metrics"
	"wadesk/internal/models"
	"wadesk/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// InstanceMonitor periodically reconciles stored instance status against the
// gateway's view. Webhook deliveries can be lost; the monitor is the
// catch-up path that heals drift.
type InstanceMonitor struct {
	store    Store
	gateway  gateway.Client
	pub      Publisher
	logger   *logrus.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInstanceMonitor wires the monitor. All dependencies are required.
func NewInstanceMonitor(store Store, gw gateway.Client, pub Publisher, logger *logrus.Logger, interval time.Duration) (*InstanceMonitor, error) {
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
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return &InstanceMonitor{
		store:    store,
		gateway:  gw,
		pub:      pub,
		logger:   logger,
		interval: interval,
	}, nil
}

// Start launches the reconciliation loop. Calling Start on a running monitor
// is a no-op.
func (m *InstanceMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.reconcileAll(loopCtx)
			}
		}
	}()

	m.logger.WithField("interval", m.interval).Info("Instance monitor started")
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (m *InstanceMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		m.logger.Info("Instance monitor stopped")
	}
}

func (m *InstanceMonitor) reconcileAll(ctx context.Context) {
	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Instance monitor failed to list instances")
		return
	}

	for _, inst := range instances {
		if ctx.Err() != nil {
			return
		}
		if err := m.reconcile(ctx, inst); err != nil {
			m.logger.WithError(err).WithField(LogFieldInstance, inst.Name).Warn("Instance reconciliation failed")
			metrics.IncrementCounter("monitor_reconcile_errors_total", nil, "Failed instance reconciliations")
		}
	}
	metrics.SetGauge("monitor_instances", float64(len(instances)), nil, "Instances watched by the monitor")
}

// reconcile compares one instance's stored status against the gateway and
// heals drift. Instances mid-pairing are left alone so the monitor does not
// clobber a QR code the operator is scanning.
func (m *InstanceMonitor) reconcile(ctx context.Context, inst *models.Instance) error {
	if inst.Status == models.InstanceQRCode {
		return nil
	}

	state, err := m.gateway.ConnectionState(ctx, inst.Name, inst.Token)
	if err != nil {
		return err
	}

	actual := models.ConnectionStateFromVendor(state.Instance.State)
	if actual == inst.Status {
		return nil
	}

	if err := m.store.UpdateInstanceStatus(ctx, inst.ID, actual); err != nil {
		return err
	}

	m.pub.PublishGlobal(EventInstanceStatus, map[string]interface{}{
		"instanceId": inst.ID,
		"name":       inst.Name,
		"status":     actual,
	})
	m.logger.WithFields(logrus.Fields{
		LogFieldInstance: inst.Name,
		"stored":         inst.Status,
		"actual":         actual,
	}).Info("Instance status drift healed")
	metrics.IncrementCounter("monitor_drift_healed_total", nil, "Instance status corrections")
	return nil
}
