package privacy

import (
	"strings"
	"testing"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Standard formats
		{"+1234567890", "+******7890"},
		{"+447712345678", "+********5678"},
		{"1234567890", "******7890"},
		{"447712345678", "********5678"},

		// Edge cases
		{"", ""},
		{"+123", "+***"},
		{"+1", "+*"},
		{"+", "+"},
		{"1", "*"},
		{"12", "**"},
		{"123", "***"},
		{"1234", "****"}, // Will be all masked since <= 4

		// Short numbers with +
		{"+12345", "+*2345"},
		{"+123456", "+**3456"},
	}

	for _, test := range tests {
		result := MaskPhoneNumber(test.input)
		if result != test.expected {
			t.Errorf("MaskPhoneNumber(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestMaskJID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"15551234567@s.whatsapp.net", "*******4567@s.whatsapp.net"},
		{"15551234567:12@s.whatsapp.net", "*******4567:12@s.whatsapp.net"},
		{"15551234567", "*******4567"},
		{"123@s.whatsapp.net", "***@s.whatsapp.net"},
		{"", ""},
	}

	for _, test := range tests {
		result := MaskJID(test.input)
		if result != test.expected {
			t.Errorf("MaskJID(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestMaskSessionID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"12_1700000000000", "12_*********0000"},
		{"7_123", "7_***"},
		{"restored", "*****red"},
		{"", ""},
	}

	for _, test := range tests {
		result := MaskSessionID(test.input)
		if result != test.expected {
			t.Errorf("MaskSessionID(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret(""); got != "" {
		t.Errorf("MaskSecret(\"\") = %q, expected empty", got)
	}
	if got := MaskSecret("abc123"); got != "[redacted]" {
		t.Errorf("MaskSecret(\"abc123\") = %q, expected [redacted]", got)
	}
}

func TestMaskString(t *testing.T) {
	tests := []struct {
		input    string
		keepLast int
		expected string
	}{
		{"abcdefgh", 4, "****efgh"},
		{"abcd", 4, "****"},
		{"ab", 4, "**"},
		{"", 4, ""},
		{"abcdefgh", 0, "********"},
	}

	for _, test := range tests {
		result := maskString(test.input, test.keepLast)
		if result != test.expected {
			t.Errorf("maskString(%q, %d) = %q, expected %q", test.input, test.keepLast, result, test.expected)
		}
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	input := map[string]interface{}{
		"phone":       "+1234567890",
		"destination": "15551234567",
		"jid":         "15551234567:3@s.whatsapp.net",
		"session":     "12_1700000000000",
		"api_key":     "deadbeef",
		"qr":          "2@AbCdEf",
		"other_field": "not_masked",
		"count":       42,
	}

	result := MaskSensitiveFields(input)

	expected := map[string]interface{}{
		"phone":       "+******7890",
		"destination": "*******4567",
		"jid":         "*******4567:3@s.whatsapp.net",
		"session":     "12_*********0000",
		"api_key":     "[redacted]",
		"qr":          "[redacted]",
		"other_field": "not_masked",
		"count":       42,
	}

	for key, expectedVal := range expected {
		if result[key] != expectedVal {
			t.Errorf("MaskSensitiveFields()[%q] = %v, expected %v",
				key, result[key], expectedVal)
		}
	}

	// Input is not modified
	if input["phone"] != "+1234567890" {
		t.Error("MaskSensitiveFields modified its input")
	}

	// Test nil input
	nilResult := MaskSensitiveFields(nil)
	if nilResult != nil {
		t.Error("MaskSensitiveFields(nil) should return nil")
	}
}

func TestMaskSensitiveFields_PhoneAliases(t *testing.T) {
	input := map[string]interface{}{
		"phone_number": "+1234567890",
		"phoneNumber":  "+1234567890",
		"from":         "+0987654321",
		"to":           "+1122334455",
		"sent_to":      "1122334455",
		"sent_from":    "1122334455",
	}

	for key, value := range MaskSensitiveFields(input) {
		if !strings.Contains(value.(string), "*") {
			t.Errorf("Expected phone field %q to be masked, got %q", key, value)
		}
	}
}
