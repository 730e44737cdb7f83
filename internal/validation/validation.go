package validation

import (
	"fmt"
	"strings"
	"unicode"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
)

// NormalizePhoneNumber reduces a human-entered number to bare digits.
// Spaces, dashes, dots, parentheses and a leading '+' are accepted as
// formatting; anything else is rejected.
func NormalizePhoneNumber(phone string) (string, error) {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return "", errors.NewValidationError("phone", "", "phone number cannot be empty")
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		case r == '+' && i == 0:
		default:
			return "", errors.NewValidationError("phone", "", "phone number must contain only digits")
		}
	}

	digits := b.String()
	if len(digits) < constants.MinPhoneNumberLength {
		return "", errors.NewValidationError("phone", "",
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(digits) > constants.MaxPhoneNumberLength {
		return "", errors.NewValidationError("phone", "",
			fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}
	return digits, nil
}

// ParseDestinations splits a newline-separated list of numbers, drops blank
// lines and normalizes the rest. Order and duplicates are preserved.
func ParseDestinations(text string) ([]string, error) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		digits, err := NormalizePhoneNumber(line)
		if err != nil {
			return nil, errors.NewValidationError("numbers", fmt.Sprint(i+1),
				fmt.Sprintf("line %d: %s", i+1, errors.GetUserMessage(err)))
		}
		out = append(out, digits)
	}
	if len(out) == 0 {
		return nil, errors.NewValidationError("numbers", "", "no destination numbers given")
	}
	return out, nil
}

// ValidateSessionID checks a session id taken from a URL.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "session ID cannot be empty")
	}

	if len(sessionID) > constants.MaxSessionIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("session ID too long (max %d characters)", constants.MaxSessionIDLength))
	}

	// Session ids double as credential file names
	for _, char := range sessionID {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.New(errors.ErrCodeInvalidInput,
				"session ID must contain only letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 { // Max 1 hour
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateRetentionDays validates the message log retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 { // Max 10 years
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}
