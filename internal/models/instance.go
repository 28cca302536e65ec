package models

import (
	"time"
)

// InstanceStatus is the connection state of one gateway session.
type InstanceStatus string

const (
	InstanceDisconnected InstanceStatus = "DISCONNECTED"
	InstanceConnecting   InstanceStatus = "CONNECTING"
	InstanceConnected    InstanceStatus = "CONNECTED"
	InstanceQRCode       InstanceStatus = "QRCODE"
)

// Instance is one external gateway connection representing a single
// WhatsApp number. Status transitions are driven by the connection-update
// webhook handler, the instance monitor, or an explicit disconnect.
type Instance struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Token     string         `json:"-"`
	Status    InstanceStatus `json:"status"`
	QRCode    *string        `json:"qrcode,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ConnectionStateFromVendor maps the gateway's tri-state connection signal
// to the instance status enum. Unknown states map to DISCONNECTED.
func ConnectionStateFromVendor(state string) InstanceStatus {
	switch state {
	case "open":
		return InstanceConnected
	case "connecting":
		return InstanceConnecting
	case "close":
		return InstanceDisconnected
	default:
		return InstanceDisconnected
	}
}
