package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		phone    string
		expected string
	}{
		{"5511999887766", "*********7766"},
		{"+5511999887766", "+*********7766"},
		{"1234", "****"},
		{"+123", "+***"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskPhoneNumber(tt.phone), "phone %q", tt.phone)
	}
}

func TestMaskJID(t *testing.T) {
	assert.Equal(t, "*********7766@s.whatsapp.net", MaskJID("5511999887766@s.whatsapp.net"))
	assert.Equal(t, "******-789@g.us", MaskJID("123456-789@g.us"))
	assert.Equal(t, "*********7766", MaskJID("5511999887766"))
	assert.Equal(t, "", MaskJID(""))
}

func TestMaskExternalID(t *testing.T) {
	assert.Equal(t, "****************26E90A5B", MaskExternalID("3EB0E1A7B2C3D4F526E90A5B"))
	assert.Equal(t, "********", MaskExternalID("SHORTID1"))
	assert.Equal(t, "", MaskExternalID(""))
}
