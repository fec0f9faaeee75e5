package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON encodes body as the JSON response, writing status first
// so a downstream encode failure cannot change the response code.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
