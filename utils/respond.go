package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"agrismart/apperr"
)

// APIMessage is the JSON envelope for non-payload responses.
type APIMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RespondJSON writes payload as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("write response: %v", err)
		}
	}
}

// RespondError maps err to an HTTP status and writes a {success, message}
// body. Unexpected errors are logged server-side and surfaced with a
// generic message.
func RespondError(w http.ResponseWriter, err error, message string) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		message = "Internal server error"
	}
	if message == "" && err != nil {
		message = err.Error()
	}
	RespondJSON(w, status, APIMessage{Success: false, Message: message})
}
