package privacy

import (
	"strconv"
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskChatID masks a chat ID to show structure but hide sensitive parts
// Example: "1234567890@c.us" -> "******7890@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if at := strings.Index(chatID, "@"); at >= 0 {
		return maskString(chatID[:at], 4) + chatID[at:]
	}

	return maskString(chatID, 4)
}

// MaskDestination masks a configured destination in whatever form it was
// entered ("+1 (555) 010-0001", "15550100001", "15550100001@c.us").
func MaskDestination(dest string) string {
	if strings.Contains(dest, "@") {
		return MaskChatID(dest)
	}
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' {
			return -1
		}
		return r
	}, dest)
	return MaskPhoneNumber(compact)
}

// MaskDestinations masks every entry of a destination list
func MaskDestinations(dests []string) []string {
	out := make([]string, len(dests))
	for i, d := range dests {
		out[i] = MaskDestination(d)
	}
	return out
}

// MaskText shortens message text for logs to a length marker plus a short prefix
// Example: "Breaking news: markets are up" -> "Break…[29 chars]"
func MaskText(text string) string {
	runes := []rune(text)
	if len(runes) <= 5 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:5]) + "…[" + strconv.Itoa(len(runes)) + " chars]"
}

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
		case "phone", "phone_number", "destination", "to":
			masked[k] = MaskDestination(s)
		case "chat_id", "chatId", "wid":
			masked[k] = MaskChatID(s)
		case "text", "formatted_text":
			masked[k] = MaskText(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
