package models

import (
	"strings"
	"time"
)

// Known remote identifier suffixes used by the gateway. The part before the
// suffix is phone-number-shaped for individual chats.
var jidSuffixes = []string{
	"@s.whatsapp.net",
	"@c.us",
	"@g.us",
	"@lid",
	"@broadcast",
}

// BroadcastJID is the reserved status/broadcast pseudo-identifier. Events
// addressed to it are never routed to a conversation.
const BroadcastJID = "status@broadcast"

// Contact is a remote chat participant scoped to one instance.
// (instance_id, remote_jid) is unique; contacts are created lazily on first
// inbound event and only deleted via instance cascade.
type Contact struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instanceId"`
	RemoteJID  string    `json:"remoteJid"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
	IsGroup    bool      `json:"isGroup"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DisplayName returns the best available name for the contact.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Phone
}

// PhoneFromJID derives a phone-number-shaped string from a remote identifier
// by stripping the known suffix patterns and any device part after ':'.
func PhoneFromJID(jid string) string {
	phone := jid
	for _, suffix := range jidSuffixes {
		if strings.HasSuffix(phone, suffix) {
			phone = strings.TrimSuffix(phone, suffix)
			break
		}
	}
	if i := strings.IndexByte(phone, ':'); i >= 0 {
		phone = phone[:i]
	}
	return phone
}

// IsGroupJID reports whether the identifier addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
