package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes an error envelope with the correct Content-Type.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    false,
		"error_code": code,
		"message":    msg,
	})
}
