package utils

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// WriteJSONResponse writes data as JSON with the given status code. The status
// line is already sent when encoding fails, so the failure is only logged.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(context.Background()).Warn("Failed to encode JSON response", zap.Int("status", statusCode), zap.Error(err))
	}
}
