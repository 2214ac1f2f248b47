// Package types holds the wire envelopes shared by the HTTP layer.
package types

// APIError is the machine-readable error body returned to clients.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps an APIError under the "error" key.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// SuccessEnvelope wraps a successful payload under the "data" key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}
