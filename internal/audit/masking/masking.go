package masking

import (
	"net/url"
	"strings"
)

const maskToken = "****"

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// RedactEndpoint masks credentials embedded in an endpoint URL: the userinfo
// password and every query value. Unparseable input is masked whole.
func RedactEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return MaskSecret(trimmed)
	}

	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), maskToken)
		}
	}
	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key, values := range query {
			for i := range values {
				values[i] = MaskSecret(values[i])
			}
			query[key] = values
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
