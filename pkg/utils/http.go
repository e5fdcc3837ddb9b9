package utils

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// JSONError writes a JSON error response with the given status code and
// message. It ensures the Content-Type is set to application/json.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}

// GenID returns a new opaque message id.
func GenID() string { return "m_" + uuid.NewString() }

// GenSessionID returns a new opaque session id.
func GenSessionID() string { return "s_" + uuid.NewString() }
