package middleware

import "strings"

// MaskToken маскирует токен в логах (в prod не светить полный токен).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

// MaskPhone оставляет последние 4 цифры: +7*******4567.
func MaskPhone(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	prefix := ""
	if strings.HasPrefix(s, "+") {
		prefix, s = "+", s[1:]
	}
	if len(s) <= 4 {
		return prefix + "****"
	}
	return prefix + strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
