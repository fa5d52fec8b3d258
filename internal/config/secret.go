package config

// Secret holds a credential value that must never appear in logs, error
// messages, serialized output, or debug dumps. The raw value is only
// reachable through Reveal, which the session authentication step calls.
type Secret struct {
	value string
}

// NewSecret wraps a raw credential value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw value. Callers other than the authentication step
// have no business calling this.
func (s Secret) Reveal() string { return s.value }

// IsZero reports whether no value has been set.
func (s Secret) IsZero() bool { return s.value == "" }

func (s Secret) String() string   { return "[redacted]" }
func (s Secret) GoString() string { return "config.Secret{[redacted]}" }

// MarshalJSON always emits a redaction marker.
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"[redacted]"`), nil }

// MarshalYAML always emits a redaction marker.
func (s Secret) MarshalYAML() (any, error) { return "[redacted]", nil }
