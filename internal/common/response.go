package common

import (
	"encoding/json"
	"net/http"
)

// Body writes an already encoded JSON body with the given status.
func Body(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// JSON encodes v and writes it with the given status.
func JSON(w http.ResponseWriter, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	Body(w, status, b)

	return nil
}

// Error writes the error message as a JSON string.
func Error(w http.ResponseWriter, status int, err error) {
	b, merr := json.Marshal(err.Error())
	if merr != nil {
		w.WriteHeader(status)
		return
	}

	Body(w, status, b)
}
