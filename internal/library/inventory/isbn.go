package inventory

import "strings"

// NormalizeISBN はハイフン・空白を除去し、末尾の x を大文字にする。
// 10桁(末尾 X 可) か 13桁の数字でなければ ErrInvalidISBN。
func NormalizeISBN(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r == '-' || r == ' ':
			continue
		case r == 'x':
			b.WriteRune('X')
		default:
			b.WriteRune(r)
		}
	}
	s := b.String()

	switch len(s) {
	case 10:
		if !allDigits(s[:9]) || !(isDigit(s[9]) || s[9] == 'X') {
			return "", ErrInvalidISBN
		}
	case 13:
		if !allDigits(s) {
			return "", ErrInvalidISBN
		}
	default:
		return "", ErrInvalidISBN
	}
	return s, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
