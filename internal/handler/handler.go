// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/auth"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/notify"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

// msgRetry is the only detail a client gets when a payment cannot be
// confirmed for reasons on our side or the provider's.
const msgRetry = "payment could not be confirmed, please retry or contact support"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report field names the way clients send them.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// bind decodes and validates a request body. On failure it writes the 400
// response and returns false.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "validation failed", Fields: fields})
		return false
	}
	return true
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	default:
		return "failed " + fe.Tag()
	}
}

// currentUser returns the caller set by auth.Verifier.Middleware.
func currentUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	u, ok := auth.UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
	}
	return u, ok
}

// writeServiceError maps a service error onto a status code. notFound
// replaces the generic message for repository.ErrNotFound.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	status, msg := classify(err)
	if notFound != "" && errors.Is(err, repository.ErrNotFound) {
		msg = notFound
	}
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).Error("request failed")
	}
	writeError(w, status, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrNotEnrolled):
		return http.StatusNotFound, service.ErrNotEnrolled.Error()
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrSessionMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "you are not allowed to do that"
	case errors.Is(err, service.ErrLevelConfirmationRequired):
		return http.StatusPreconditionRequired, service.ErrLevelConfirmationRequired.Error()
	case errors.Is(err, repository.ErrEventFull):
		return http.StatusConflict, "event is fully booked"
	case errors.Is(err, repository.ErrAlreadyRegistered):
		return http.StatusConflict, "you are already registered for this event"
	case errors.Is(err, service.ErrLevelConflict),
		errors.Is(err, service.ErrTicketNotValid),
		errors.Is(err, service.ErrTicketAlreadyUsed),
		errors.Is(err, repository.ErrAdNotActivatable),
		errors.Is(err, repository.ErrCheckoutPending),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict, rootMessage(err)
	case errors.Is(err, payment.ErrUnavailable):
		return http.StatusServiceUnavailable, "payment provider unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// rootMessage is the message of the innermost wrapped error, so clients see
// "ticket already used" rather than the wrapping chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	Notifications notify.Stats `json:"notifications"`
}

// HealthCheck handles GET /health
// Reports liveness and the notification queue counters.
func HealthCheck(stats func() notify.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if stats != nil {
			resp.Notifications = stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
