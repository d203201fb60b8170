// Package handlers provides HTTP handlers for the blood engine API.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindAuthorization:
		return http.StatusForbidden
	case fault.KindConflict, fault.KindDonorNotEligible:
		return http.StatusConflict
	case fault.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeFault maps a classified error onto its HTTP status. Store-level
// failures are logged but never leak their detail to the caller.
func writeFault(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := fault.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if kind == fault.KindTransientStore {
		logger.Error("store failure", zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: string(kind)})
}
