package blob

import (
	"bytes"
	"io"
)

// Helpers for reading loosely typed store options (viper decodes numbers and
// booleans from env vars as strings).

func optString(opts map[string]interface{}, key string) string {
	s, _ := opts[key].(string)
	return s
}

func toBool(val interface{}) bool {
	switch v := val.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		return v == "1" || v == "true" || v == "on"
	default:
		return false
	}
}

// firstNonEmpty returns the first non-empty value, so stores can accept
// more than one spelling of an option.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
