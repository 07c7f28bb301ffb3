package http

import (
	"encoding/json"
	"net/http"

	"github.com/robertarktes/seatmap-booking/internal/domain"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

var kindStatus = map[domain.Kind]int{
	domain.KindLayout:            http.StatusUnprocessableEntity,
	domain.KindSeatNotSelectable: http.StatusConflict,
	domain.KindSeatUnavailable:   http.StatusConflict,
	domain.KindInvalidDiscount:   http.StatusUnprocessableEntity,
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindSessionBusy:       http.StatusConflict,
	domain.KindNotFound:          http.StatusNotFound,
}

var reasonStatus = map[domain.FailureReason]int{
	domain.ReasonSeatTaken:    http.StatusConflict,
	domain.ReasonValidation:   http.StatusUnprocessableEntity,
	domain.ReasonNotFound:     http.StatusNotFound,
	domain.ReasonUnauthorized: http.StatusBadGateway,
	domain.ReasonServer:       http.StatusBadGateway,
	domain.ReasonNetwork:      http.StatusBadGateway,
}

// statusOf picks the HTTP status for err. Remote failures are judged by
// their reason; a local ErrNotFound inside a cancellation failure is a 404.
func statusOf(err error) int {
	kind := domain.KindOf(err)
	reason := domain.ReasonOf(err)
	switch kind {
	case domain.KindBookingFailed, domain.KindCancellationFailed, domain.KindInternal:
		if s, ok := reasonStatus[reason]; ok {
			return s
		}
		if kind == domain.KindCancellationFailed {
			return http.StatusNotFound
		}
		if kind == domain.KindBookingFailed {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func errorOf(err error) errorBody {
	body := errorBody{
		Kind:    string(domain.KindOf(err)),
		Message: err.Error(),
		Reason:  string(domain.ReasonOf(err)),
	}
	if statusOf(err) == http.StatusInternalServerError {
		body.Message = "internal error"
	}
	return body
}

func writeError(w http.ResponseWriter, err error) int {
	status := statusOf(err)
	writeJSON(w, status, errorOf(err))
	return status
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
