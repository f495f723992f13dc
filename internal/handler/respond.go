package handler

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/ocr-gateway/internal/contract"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *contract.Error) {
	writeJSON(w, err.Kind.HTTPStatus(), err.Response())
}
