// Package response provides the shared JSON response envelope used by the
// Controller and Gateway HTTP surfaces.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/webalive/workerspawn/internal/sentryx"
)

// JSON writes payload as a JSON body with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("response: encode payload failed")
		sentryx.CaptureError(err, "response.JSON: encode payload failed")
	}
}
