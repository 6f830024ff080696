package proxy

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON shape of every gateway-generated error response.
// Service is set only when the failure is scoped to a specific backend.
type errorBody struct {
	Error   string `json:"error"`
	Method  string `json:"method,omitempty"`
	Service string `json:"service,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeServiceError(w http.ResponseWriter, status int, message, service string) {
	writeJSON(w, status, errorBody{Error: message, Service: service})
}

func writeMethodNotAllowed(w http.ResponseWriter, method string) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Error:  "Method not allowed",
		Method: method,
	})
}
