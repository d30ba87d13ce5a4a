package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/models"
)

// ValidatePhoneNumber validates a destination number. Formatting characters
// (spaces, dashes, parentheses, dots) and a leading "+" or trailing "@c.us"
// are tolerated; anything else must be a digit.
func ValidatePhoneNumber(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return errors.NewValidationError("destination", "phone number cannot be empty")
	}

	cleaned := strings.TrimSpace(phone)
	cleaned = strings.TrimPrefix(cleaned, "+")
	cleaned = strings.TrimSuffix(cleaned, "@c.us")

	for _, char := range cleaned {
		switch {
		case unicode.IsDigit(char):
		case char == ' ' || char == '-' || char == '(' || char == ')' || char == '.':
		default:
			return errors.NewValidationError("destination", "phone number must contain only digits")
		}
	}

	digits := models.NormalizeDestination(cleaned)
	if len(digits) < constants.MinPhoneNumberLength {
		return errors.NewValidationError("destination",
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(digits) > constants.MaxPhoneNumberLength {
		return errors.NewValidationError("destination",
			fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}

	return nil
}

// ValidateInboundMessage validates an ingestion payload before it becomes a Message
func ValidateInboundMessage(in models.InboundMessage) error {
	if strings.TrimSpace(in.Text) == "" {
		return errors.NewValidationError("text", "text is required")
	}
	if len(in.Text) > constants.MaxMessageTextLength {
		return errors.NewValidationError("text",
			fmt.Sprintf("text too long (max %d bytes)", constants.MaxMessageTextLength))
	}
	if err := ValidateStringLength(in.ChannelName, "channelName", 0, constants.MaxChannelNameLength); err != nil {
		return err
	}
	if err := ValidateStringLength(in.ChannelID, "channelId", 0, constants.MaxChannelNameLength); err != nil {
		return err
	}
	if in.MessageID != "" {
		if err := ValidateMessageID(in.MessageID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConfigPatch checks every supplied field of a forwarding config patch
func ValidateConfigPatch(p models.ConfigPatch) error {
	if p.Destinations != nil {
		for _, dest := range *p.Destinations {
			if err := ValidatePhoneNumber(dest); err != nil {
				if appErr, ok := errors.As(err); ok {
					appErr.WithContext("value", dest)
				}
				return err
			}
		}
	}
	if p.SourceChannels != nil {
		for _, ch := range *p.SourceChannels {
			if err := ValidateStringLength(ch, "sourceChannels", 0, constants.MaxChannelNameLength); err != nil {
				return err
			}
		}
	}
	if p.MessageTemplate != nil {
		if err := ValidateStringLength(*p.MessageTemplate, "messageTemplate", 0, constants.MaxTemplateLength); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.NewValidationError("messageId", "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.NewValidationError("messageId",
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.NewValidationError("messageId", "message ID contains invalid characters")
		}
	}

	return nil
}

// ValidateSessionName validates session name format and length
func ValidateSessionName(sessionName string) error {
	if sessionName == "" {
		return errors.NewValidationError("session", "session name cannot be empty")
	}

	if len(sessionName) > constants.MaxSessionNameLength {
		return errors.NewValidationError("session",
			fmt.Sprintf("session name too long (max %d characters)", constants.MaxSessionNameLength))
	}

	for _, char := range sessionName {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.NewValidationError("session",
				"session name must contain only letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.NewValidationError("body",
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.NewValidationError(fieldName,
			fmt.Sprintf("too short (min %d characters)", minLength))
	}

	if len(value) > maxLength {
		return errors.NewValidationError(fieldName,
			fmt.Sprintf("too long (max %d characters)", maxLength))
	}

	return nil
}
