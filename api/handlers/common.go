package handlers

import (
	"encoding/json"
	"net/http"

	"cosmossdk.io/errors"
	"github.com/google/uuid"

	apitypes "github.com/openalpha/spot-dex/api/types"
	"github.com/openalpha/spot-dex/types"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// writeDomainError maps the exchange error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsOf(err, types.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case errors.IsOf(err, types.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.IsOf(err, types.ErrInsufficientLiquidity):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_liquidity", err.Error())
	case errors.IsOf(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.IsOf(err, types.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.IsOf(err, types.ErrDuplicateOrder, types.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// resolveCaller authenticates the request from the X-User-ID header the
// upstream auth layer sets. It writes the error response itself and
// reports ok=false when the request must not proceed.
func resolveCaller(w http.ResponseWriter, r *http.Request, svc apitypes.Exchange) (types.Caller, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return types.Caller{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_user", "X-User-ID must be a UUID")
		return types.Caller{}, false
	}
	caller, err := svc.ResolveCaller(r.Context(), id)
	if err != nil {
		if errors.IsOf(err, types.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown_user", "no such user")
			return types.Caller{}, false
		}
		writeDomainError(w, err)
		return types.Caller{}, false
	}
	return caller, true
}
