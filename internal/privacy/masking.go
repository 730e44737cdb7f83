package privacy

import (
	"strings"

	"wadispatch/internal/constants"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	keep := constants.DefaultPhoneMaskLength

	// Handle + prefix numbers specially
	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 { // Just "+"
			return phone
		}
		if len(phone) <= keep+1 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + maskString(phone[1:], keep)
	}

	return maskString(phone, keep)
}

// MaskJID masks the user part of a WhatsApp JID and keeps the device suffix
// and server.
// Example: "15551234567:12@s.whatsapp.net" -> "*******4567:12@s.whatsapp.net"
func MaskJID(jid string) string {
	if jid == "" {
		return ""
	}

	user, server, hasServer := strings.Cut(jid, "@")
	user, device, hasDevice := strings.Cut(user, ":")

	masked := MaskPhoneNumber(user)
	if hasDevice {
		masked += ":" + device
	}
	if hasServer {
		masked += "@" + server
	}
	return masked
}

// MaskSessionID keeps the account prefix of a session id readable.
// Example: "12_1700000000000" -> "12_*********0000"
func MaskSessionID(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	account, suffix, ok := strings.Cut(sessionID, "_")
	if !ok {
		return maskString(sessionID, 3)
	}
	return account + "_" + maskString(suffix, 4)
}

// MaskSecret hides a credential completely apart from its length class.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "[redacted]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "phoneNumber", "number", "destination",
			"sent_to", "sent_from", "sentTo", "sentFrom", "to", "from":
			masked[k] = MaskPhoneNumber(s)
		case "jid":
			masked[k] = MaskJID(s)
		case "session", "session_id", "sessionId":
			masked[k] = MaskSessionID(s)
		case "api_key", "apiKey", "x_api_key", "admin_token", "qr", "qr_code":
			masked[k] = MaskSecret(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
