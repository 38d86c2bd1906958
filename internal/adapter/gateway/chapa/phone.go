package chapa

import "strings"

// formatPhone normalizes Ethiopian phone numbers to the local 0-prefixed
// form the API accepts. Numbers that do not look Ethiopian pass through
// unchanged.
func formatPhone(phone string) string {
	if phone == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && (strings.HasPrefix(digits, "09") || strings.HasPrefix(digits, "07")):
		return digits
	case len(digits) == 9 && (digits[0] == '9' || digits[0] == '7'):
		return "0" + digits
	case len(digits) == 12 && strings.HasPrefix(digits, "251"):
		local := digits[3:]
		if local[0] == '9' || local[0] == '7' {
			return "0" + local
		}
	}
	return phone
}
