package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(field, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: field, Message: "email is required"}
	}
	if !emailRegex.MatchString(email) {
		return ValidationError{Field: field, Message: "invalid email format"}
	}
	return nil
}

// ValidateWebhookURL checks that raw is an absolute https URL, which
// Telegram requires for webhooks
func ValidateWebhookURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationError{Field: field, Message: "invalid URL"}
	}
	if u.Scheme != "https" || u.Host == "" {
		return ValidationError{Field: field, Message: "must be an absolute https URL"}
	}
	return nil
}

// ValidateTelegramLink checks that raw points at t.me or telegram.me
func ValidateTelegramLink(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ValidationError{Field: field, Message: "invalid URL"}
	}
	switch strings.ToLower(u.Host) {
	case "t.me", "telegram.me":
		return nil
	}
	return ValidationError{Field: field, Message: "must be a t.me link"}
}
