package core

import (
	"errors"
	"net/http"
	"strings"

	"memberpay/internal/types"
)

// AuthMiddleware resolves the Bearer session token into an Actor and stores
// it in the request context. Failures respond 401 with one of
// auth_token_missing, auth_token_invalid or auth_session_expired.
//
// It is applied to the /v1 group only; webhook routes authenticate by
// signature instead.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			s.Logger.ErrorContext(r.Context(), "authenticated route reached without an authenticator",
				"path", r.URL.Path,
			)
			Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "authentication is not configured", nil))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken returns the token from "Bearer <token>", comparing the
// scheme case-insensitively. It returns "" for any other shape.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthSessionExpired:
			s.Logger.WarnContext(r.Context(), "authentication failed: session expired", "path", r.URL.Path)
			writeAuthError(w, r, types.ErrCodeAuthSessionExpired, "Session has expired")
			return
		case types.ErrCodeAuthTokenInvalid:
			s.Logger.WarnContext(r.Context(), "authentication failed: token invalid", "path", r.URL.Path)
			writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}
	}

	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
		"path", r.URL.Path,
		"error", err,
	)
	writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
