package audit

import "strings"

// Mask replaces the value of every sensitive key in a captured payload
const Mask = "***"

// DefaultSensitiveKeys is used when no sensitive keys are configured
var DefaultSensitiveKeys = []string{"password", "new_password", "old_password"}

// Sanitizer masks sensitive top-level fields of captured request payloads.
//
// Only the top level is inspected. A nested object such as {"user": {"password": "x"}}
// is stored as received.
type Sanitizer struct {
	keys map[string]struct{}
}

// NewSanitizer builds a Sanitizer for keys, matched case-insensitively.
// An empty list falls back to DefaultSensitiveKeys.
func NewSanitizer(keys []string) *Sanitizer {
	if len(keys) == 0 {
		keys = DefaultSensitiveKeys
	}
	s := &Sanitizer{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		s.keys[strings.ToLower(k)] = struct{}{}
	}
	return s
}

// Sanitize returns a copy of payload with sensitive values replaced by Mask.
// Anything other than a JSON object yields nil.
func (s *Sanitizer) Sanitize(payload any) map[string]any {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if _, sensitive := s.keys[strings.ToLower(k)]; sensitive {
			out[k] = Mask
			continue
		}
		out[k] = v
	}
	return out
}
