package api

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/identity"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Error codes returned in ErrorResponse.Code
const (
	codeAccessDenied       = "access_denied"
	codeAuthFailed         = "auth_failed"
	codeEmailTaken         = "email_taken"
	codeInvalidRequest     = httputil.CodeInvalidRequest
	codeNoSession          = "no_session"
	codeSignUpUnsupported  = "sign_up_unsupported"
	codeInternal           = httputil.CodeInternal
	codeServiceUnavailable = "service_unavailable"
)

// errorStatus maps service errors onto HTTP status codes
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, accounts.ErrAccessDenied):
		return http.StatusForbidden, codeAccessDenied
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, codeEmailTaken
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, auth.ErrSignUpUnsupported):
		return http.StatusNotImplemented, codeSignUpUnsupported
	case errors.Is(err, auth.ErrNoSession),
		errors.Is(err, auth.ErrSchedulerDisposed),
		errors.Is(err, identity.ErrClosed),
		auth.IsRefreshError(err):
		return http.StatusUnauthorized, codeNoSession
	case auth.IsAuthError(err):
		return http.StatusUnauthorized, codeAuthFailed
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and their text is not sent to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context(), s.log).WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		httputil.WriteErrorCode(w, status, code, "internal error")
		return
	}
	httputil.WriteErrorCode(w, status, code, err.Error())
}
