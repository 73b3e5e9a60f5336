package types

// redacted replaces secret values in logs and serialized output.
const redacted = "***REDACTED***"

// SecretString holds a sensitive value (database URL, session key) and
// redacts itself through fmt.Stringer and JSON marshalling so secrets never
// leak into logs or config dumps. Call Unmask only where the raw value is
// genuinely required, such as opening a connection pool.
type SecretString string

// String returns the redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
