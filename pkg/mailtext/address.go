package mailtext

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// ExtractAddress returns the bare, lower-cased address of a
// `"Display Name" <addr>` style header value.
func ExtractAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil && addr.Address != "" {
		return strings.ToLower(addr.Address)
	}
	if start := strings.LastIndex(value, "<"); start >= 0 {
		if end := strings.Index(value[start:], ">"); end > 0 {
			return strings.ToLower(strings.TrimSpace(value[start+1 : start+end]))
		}
	}
	return strings.ToLower(strings.Trim(value, `"' `))
}

// AddressList parses a comma separated recipient header into bare addresses.
func AddressList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if addr := ExtractAddress(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Addressed reports whether target appears in any of the recipient headers,
// either as an exact parsed address or as a bracketed substring.
func Addressed(target string, headers ...string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return false
	}
	for _, h := range headers {
		for _, addr := range AddressList(h) {
			if addr == target {
				return true
			}
		}
		if strings.Contains(strings.ToLower(h), "<"+target+">") {
			return true
		}
	}
	return false
}
