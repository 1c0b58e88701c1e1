package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// fallbackBody is sent when a response cannot be encoded.
var fallbackBody = mustEncode(models.Error("Internal server error"))

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("api: encode fallback response: " + err.Error())
	}
	return b
}

// writeJSONResponse encodes resp before touching headers so an encoding
// failure can still change the status to 500.
func writeJSONResponse(w http.ResponseWriter, status int, resp models.APIResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Server.writeJSONResponse: encode failed", "error", err, "status", status)
		body, status = fallbackBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Warn("Server.writeJSONResponse: write failed", "error", err)
	}
}
