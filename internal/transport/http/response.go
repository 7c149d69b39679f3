package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"examroom-service/internal/domain"
)

// envelope is the body of every REST response and the payload of every WebSocket ack.
type envelope struct {
	Success bool        `json:"success"`
	Kind    domain.Kind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    any         `json:"data,omitempty"`
}

func ok(data any) envelope {
	return envelope{Success: true, Data: data}
}

// failure hides the text of errors outside the taxonomy.
func failure(err error) envelope {
	var de *domain.Error
	if !errors.As(err, &de) {
		return envelope{Kind: domain.KindInternal, Message: "internal error"}
	}
	return envelope{Kind: domain.KindOf(err), Message: domain.Message(err)}
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindStateConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
