package oauth

import "log/slog"

// redactedPlaceholder replaces the wrapped value in every textual rendering.
const redactedPlaceholder = "[REDACTED]"

// RedactedToken carries a credential through log-facing code paths without
// risking exposure: every rendering entry point (fmt verbs, slog attributes,
// text and JSON marshaling) yields the placeholder instead of the wrapped
// value. The value itself is reachable only through Value, for building
// Authorization headers.
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps a credential value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the wrapped credential. Callers must never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty reports whether no credential is wrapped.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

// String implements fmt.Stringer, so %s and %v render the placeholder.
func (t RedactedToken) String() string {
	return redactedPlaceholder
}

// GoString implements fmt.GoStringer, covering %#v as well.
func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken(" + redactedPlaceholder + ")"
}

// LogValue implements slog.LogValuer, keeping structured log output safe
// when the token is passed to slog as an attribute rather than through a
// format verb.
func (t RedactedToken) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// MarshalText implements encoding.TextMarshaler.
func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(redactedPlaceholder), nil
}

// MarshalJSON implements json.Marshaler.
func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}
