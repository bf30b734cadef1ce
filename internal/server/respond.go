package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/auth"
	"github.com/nerdneilsfield/dreamforge/internal/generation"
	"github.com/nerdneilsfield/dreamforge/internal/inference"
	"github.com/nerdneilsfield/dreamforge/internal/payments"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// apiError is a handler-level failure with its status and message key.
type apiError struct {
	status int
	key    string
	args   []any
	data   any
}

func (e *apiError) Error() string { return e.key }

func newAPIError(status int, key string, args ...any) *apiError {
	return &apiError{status: status, key: key, args: args}
}

var (
	errBadRequest         = newAPIError(http.StatusBadRequest, "ErrBadRequest")
	errUnauthenticated    = newAPIError(http.StatusUnauthorized, "ErrUnauthenticated")
	errForbidden          = newAPIError(http.StatusForbidden, "ErrForbidden")
	errRateLimited        = newAPIError(http.StatusTooManyRequests, "ErrRateLimited")
	errInvalidCredentials = newAPIError(http.StatusUnauthorized, "ErrInvalidCredentials")
)

func validationError(field, message string) *apiError {
	return newAPIError(http.StatusBadRequest, "ErrValidation", "Field", field, "Message", message)
}

// JSON writes a success or informational response using the common envelope.
func (s *Server) JSON(w http.ResponseWriter, r *http.Request, status int, key string, data any, args ...any) {
	s.write(w, status, Envelope{Code: status, Message: s.deps.I18n.T(s.lang(r), key, args...), Data: data})
}

// Error maps err onto a status code and a localized message.
func (s *Server) Error(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := s.classify(err)
	if apiErr.status >= http.StatusInternalServerError {
		s.deps.Logger.Error("Request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", apiErr.status), zap.Error(err))
	}
	s.write(w, apiErr.status, Envelope{
		Code:    apiErr.status,
		Message: s.deps.I18n.T(s.lang(r), apiErr.key, apiErr.args...),
		Data:    apiErr.data,
	})
}

func (s *Server) classify(err error) *apiError {
	var (
		apiErr       *apiError
		invalid      *generation.ValidationError
		unknownModel *generation.UnknownModelError
		noUser       *generation.UserNotFoundError
		insufficient *generation.InsufficientCreditsError
		failed       *generation.GenerationFailedError
		persistence  *generation.PersistenceError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &invalid):
		return validationError(invalid.Field, invalid.Message)
	case errors.As(err, &unknownModel):
		return newAPIError(http.StatusBadRequest, "ErrUnknownModel", "ModelID", unknownModel.ModelID)
	case errors.As(err, &noUser):
		return newAPIError(http.StatusNotFound, "ErrUserNotFound")
	case errors.As(err, &insufficient):
		e := newAPIError(http.StatusPaymentRequired, "ErrInsufficientCredits",
			"Required", insufficient.Required, "Available", insufficient.Available)
		e.data = map[string]int{"required": insufficient.Required, "available": insufficient.Available}
		return e
	case errors.As(err, &failed):
		e := newAPIError(http.StatusBadGateway, "ErrGenerationFailed", "Reason", failed.Reason)
		e.data = map[string]string{"reason": failed.Reason}
		return e
	case errors.As(err, &persistence):
		return newAPIError(http.StatusInternalServerError, "ErrPersistence")
	case errors.Is(err, auth.ErrWeakPassword):
		return newAPIError(http.StatusBadRequest, "ErrWeakPassword")
	case errors.Is(err, auth.ErrPasswordTooLong):
		return newAPIError(http.StatusBadRequest, "ErrPasswordTooLong")
	case errors.Is(err, storage.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "ErrUserExists")
	case errors.Is(err, storage.ErrNotFound):
		return newAPIError(http.StatusNotFound, "ErrNotFound")
	case errors.Is(err, payments.ErrUnknownPackage):
		return newAPIError(http.StatusBadRequest, "ErrUnknownPackage")
	case errors.Is(err, payments.ErrOrderNotFound):
		return newAPIError(http.StatusNotFound, "ErrOrderNotFound")
	case errors.Is(err, payments.ErrNotCompleted):
		return newAPIError(http.StatusBadRequest, "ErrOrderNotCompleted")
	case errors.Is(err, inference.ErrNoBalance):
		return newAPIError(http.StatusBadRequest, "ErrNoUpstreamBalance")
	default:
		return newAPIError(http.StatusInternalServerError, "ErrInternal")
	}
}

func (s *Server) write(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.deps.Logger.Warn("respond: encode payload failed", zap.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errBadRequest
	}
	return nil
}
