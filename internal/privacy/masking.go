package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits.
// Example: "5511999887766" -> "*********7766"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// MaskJID masks a remote identifier, keeping the domain suffix visible.
// Example: "5511999887766@s.whatsapp.net" -> "*********7766@s.whatsapp.net"
func MaskJID(jid string) string {
	if jid == "" {
		return ""
	}

	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return MaskPhoneNumber(jid[:i]) + jid[i:]
	}
	return MaskPhoneNumber(jid)
}

// MaskExternalID masks a vendor message id, keeping the last 8 characters
// for log correlation.
func MaskExternalID(id string) string {
	if len(id) <= 8 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-8) + id[len(id)-8:]
}
