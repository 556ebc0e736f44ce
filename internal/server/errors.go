package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/gravitas-games/forge/internal/craft"
	"github.com/gravitas-games/forge/internal/grid"
	"github.com/gravitas-games/forge/internal/ledger"
	"github.com/gravitas-games/forge/internal/network"
	"github.com/gravitas-games/forge/internal/synth"
)

// classify maps an error to its HTTP status and wire payload.
func classify(err error) (int, network.ErrorPayload) {
	var (
		invalid *grid.InvalidError
		unknown *craft.UnknownMaterialError
		short   *ledger.InsufficientMaterialError
		failed  *craft.SynthesisError
	)

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, network.ErrorPayload{
			Code:    network.CodeInvalidGrid,
			Message: invalid.Detail,
			Details: map[string]any{"rule": invalid.Rule.String(), "count": invalid.Count},
		}
	case errors.As(err, &unknown):
		return http.StatusBadRequest, network.ErrorPayload{
			Code:    network.CodeUnknownMaterial,
			Message: unknown.Error(),
			Details: map[string]any{"materials": unknown.Materials},
		}
	case errors.As(err, &short):
		return http.StatusConflict, network.ErrorPayload{
			Code:    network.CodeInsufficientMaterial,
			Message: short.Error(),
			Details: map[string]any{
				"material":  short.Material,
				"required":  short.Required,
				"available": short.Available,
			},
		}
	case errors.As(err, &failed):
		if !failed.Compensated {
			return http.StatusInternalServerError, network.ErrorPayload{
				Code:    network.CodeInternal,
				Message: "crafting failed and materials could not be restored",
			}
		}
		return http.StatusServiceUnavailable, network.ErrorPayload{
			Code:    network.CodeServiceUnavailable,
			Message: "crafting service unavailable, materials restored; try again",
		}
	case errors.Is(err, synth.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, network.ErrorPayload{Code: network.CodeServiceUnavailable, Message: err.Error()}
	case errors.Is(err, synth.ErrUnknownCategory):
		return http.StatusBadRequest, network.ErrorPayload{Code: network.CodeUnknownCategory, Message: err.Error()}
	case errors.Is(err, network.ErrInvalidRequest), errors.Is(err, grid.ErrMalformed), errors.Is(err, ledger.ErrInvalidQuantity):
		return http.StatusBadRequest, network.ErrorPayload{Code: network.CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, ledger.ErrContention):
		return http.StatusServiceUnavailable, network.ErrorPayload{Code: network.CodeContention, Message: "inventory busy, try again"}
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrNotActivated),
		errors.Is(err, ErrBanned), errors.Is(err, ErrBlacklisted):
		return http.StatusUnauthorized, network.ErrorPayload{Code: network.CodeUnauthorized, Message: err.Error()}
	default:
		return http.StatusInternalServerError, network.ErrorPayload{Code: network.CodeInternal, Message: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, network.ErrorBody{Error: payload})
}
