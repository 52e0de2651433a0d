package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/identity"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type switchAccountRequest struct {
	AccountID string `json:"account_id"`
}

type createBusinessRequest struct {
	Name           string `json:"name"`
	AddressStreet  string `json:"address_street"`
	AddressCity    string `json:"address_city"`
	AddressState   string `json:"address_state"`
	AddressZip     string `json:"address_zip"`
	AddressCountry string `json:"address_country"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type auditResponse struct {
	Events []*audit.Event `json:"events"`
}

type accountsResponse struct {
	ActiveAccountID string                `json:"active_account_id"`
	Memberships     []accounts.Membership `json:"memberships"`
}

// session returns the facade of the request's session
func (s *Server) session(r *http.Request) (string, *identity.Facade, bool) {
	id := contextkeys.GetSessionID(r.Context())
	if id == "" {
		return "", nil, false
	}
	facade, ok := s.registry.Get(id)
	if !ok {
		return "", nil, false
	}
	return id, facade, true
}

// requireSession writes 401 when the request has no live session
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*identity.Facade, bool) {
	_, facade, ok := s.session(r)
	if !ok {
		httputil.WriteErrorCode(w, http.StatusUnauthorized, codeNoSession, "no active session")
		return nil, false
	}
	return facade, true
}

// authenticate runs signIn on a newly created session. On success the new
// id replaces whatever session the client presented, so an id handed out
// before authentication never becomes an authenticated one. A failed
// attempt leaves the presented session as it was.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, eventType audit.EventType, email string, signIn func(*identity.Facade) error) (*identity.Facade, bool) {
	id, facade, err := s.registry.Create()
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}

	if err := signIn(facade); err != nil {
		s.registry.Remove(id)
		s.recordAuth(r, eventType, email, nil, err)
		s.writeServiceError(w, r, err)
		return nil, false
	}

	if previous := contextkeys.GetSessionID(r.Context()); previous != "" && previous != id {
		s.registry.Remove(previous)
		observability.FromContext(r.Context(), s.log).WithField("new_session_id", id).Debug("Replaced session on authentication")
	}
	s.setSessionCookie(w, id)

	r = r.WithContext(contextkeys.WithSessionID(r.Context(), id))
	s.recordAuth(r, eventType, email, facade, nil)
	return facade, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	w.Header().Set(middleware.SessionHeader, id)
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.opts.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// signUp handles POST /v1/auth/signup
func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required(req.Email, "email"),
		httputil.Required(req.Password, "password"),
	) {
		return
	}

	facade, ok := s.authenticate(w, r, audit.EventSignUp, req.Email, func(f *identity.Facade) error {
		return f.SignUp(r.Context(), req.Email, req.Password)
	})
	if !ok {
		return
	}
	httputil.WriteCreated(w, facade.Snapshot())
}

// signIn handles POST /v1/auth/signin
func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required(req.Email, "email"),
		httputil.Required(req.Password, "password"),
	) {
		return
	}

	facade, ok := s.authenticate(w, r, audit.EventSignIn, req.Email, func(f *identity.Facade) error {
		return f.SignIn(r.Context(), req.Email, req.Password)
	})
	if !ok {
		return
	}
	httputil.WriteSuccess(w, facade.Snapshot())
}

// signOut handles POST /v1/auth/signout. The session is dropped even when
// the provider fails to revoke it.
func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	id, facade, ok := s.session(r)
	if !ok {
		s.clearSessionCookie(w)
		httputil.WriteNoContent(w)
		return
	}

	event := audit.NewEvent(r.Context(), r, audit.EventSignOut, audit.StatusSuccess)
	if user := facade.User(); user != nil {
		event.UserID = user.ID
		event.Email = user.Email
	}
	if err := facade.SignOut(r.Context()); err != nil {
		observability.FromContext(r.Context(), s.log).WithError(err).Warn("Sign-out failed at the provider")
		event.WithError(err)
	}
	s.record(r, event)
	s.registry.Remove(id)
	s.clearSessionCookie(w)
	httputil.WriteNoContent(w)
}

// getIdentity handles GET /v1/identity. Requests without a session get the
// signed-out snapshot.
func (s *Server) getIdentity(w http.ResponseWriter, r *http.Request) {
	_, facade, ok := s.session(r)
	if !ok {
		httputil.WriteSuccess(w, identity.Snapshot{})
		return
	}

	if err := facade.Sync(r.Context()); err != nil && !isSignedOut(err) {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, facade.Snapshot())
}

// switchAccount handles POST /v1/identity/account
func (s *Server) switchAccount(w http.ResponseWriter, r *http.Request) {
	facade, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	var req switchAccountRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.AccountID, "account_id") {
		return
	}

	event := audit.NewEvent(r.Context(), r, audit.EventAccountSwitch, audit.StatusSuccess)
	event.AccountID = req.AccountID
	event.Metadata = map[string]string{"previous_account_id": facade.AccountID()}
	if err := facade.SwitchAccount(r.Context(), req.AccountID); err != nil {
		event.Status = audit.StatusFailure
		if errors.Is(err, accounts.ErrAccessDenied) {
			event.Status = audit.StatusDenied
		}
		s.record(r, event.WithError(err))
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, event)
	httputil.WriteSuccess(w, facade.Snapshot())
}

// refreshIdentity handles POST /v1/identity/refresh
func (s *Server) refreshIdentity(w http.ResponseWriter, r *http.Request) {
	facade, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := facade.RefreshAll(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, facade.Snapshot())
}

// clearCache handles DELETE /v1/identity/cache
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	facade, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	facade.ClearCache()
	httputil.WriteNoContent(w)
}

// accessToken handles GET /v1/identity/token
func (s *Server) accessToken(w http.ResponseWriter, r *http.Request) {
	facade, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	token, err := facade.AccessToken(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteSuccess(w, tokenResponse{AccessToken: token, TokenType: "Bearer"})
}

// listAccounts handles GET /v1/identity/accounts
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	facade, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	user := facade.User()
	if user == nil {
		s.writeServiceError(w, r, auth.ErrNoSession)
		return
	}

	memberships, err := s.resolver.Memberships(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []accounts.Membership{}
	}
	httputil.WriteSuccess(w, accountsResponse{
		ActiveAccountID: facade.AccountID(),
		Memberships:     memberships,
	})
}

// createBusiness handles POST /v1/identity/businesses. The business is
// created under the active account, which the caller must still belong to.
func (s *Server) createBusiness(w http.ResponseWriter, r *http.Request) {
	if s.businesses == nil {
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, codeServiceUnavailable, "business profiles are not available")
		return
	}
	facade, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	var req createBusinessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	user := facade.User()
	accountID := facade.AccountID()
	if user == nil {
		s.writeServiceError(w, r, auth.ErrNoSession)
		return
	}
	if accountID == "" {
		httputil.WriteErrorCode(w, http.StatusConflict, codeInvalidRequest, "no active account")
		return
	}
	member, err := s.resolver.Validate(r.Context(), user.ID, accountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !member {
		s.writeServiceError(w, r, accounts.ErrAccessDenied)
		return
	}

	business := &accounts.Business{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Name:           req.Name,
		AddressStreet:  req.AddressStreet,
		AddressCity:    req.AddressCity,
		AddressState:   req.AddressState,
		AddressZip:     req.AddressZip,
		AddressCountry: req.AddressCountry,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if err := s.businesses.CreateBusiness(r.Context(), business); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	event := audit.NewEvent(r.Context(), r, audit.EventBusinessCreate, audit.StatusSuccess)
	event.UserID = user.ID
	event.AccountID = accountID
	event.Metadata = map[string]string{"business_id": business.ID}
	s.record(r, event)

	if err := facade.RefreshAll(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, facade.Snapshot())
}

// listAuditEvents handles GET /v1/identity/audit: the signed-in user's own
// recent events, newest first
func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.auditRead == nil {
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, codeServiceUnavailable, "audit trail is not available")
		return
	}
	facade, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	user := facade.User()
	if user == nil {
		s.writeServiceError(w, r, auth.ErrNoSession)
		return
	}

	filter := audit.SearchFilter{UserID: user.ID, Limit: defaultAuditLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxAuditLimit {
			httputil.WriteErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "limit must be between 1 and "+strconv.Itoa(maxAuditLimit))
			return
		}
		filter.Limit = limit
	}

	events, err := s.auditRead.Search(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, auditResponse{Events: events})
}

// recordAuth audits a sign-in or sign-up attempt. facade is nil on failure.
func (s *Server) recordAuth(r *http.Request, eventType audit.EventType, email string, facade *identity.Facade, err error) {
	event := audit.NewEvent(r.Context(), r, eventType, audit.StatusSuccess)
	event.Email = email
	if err != nil {
		event.Status = audit.StatusFailure
		event.WithError(err)
	}
	if facade != nil {
		if user := facade.User(); user != nil {
			event.UserID = user.ID
		}
		event.AccountID = facade.AccountID()
	}
	s.record(r, event)
}

// record writes event to the audit trail. Failures are logged only.
func (s *Server) record(r *http.Request, event *audit.Event) {
	if err := s.audit.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context(), s.log).WithError(err).WithField("event_type", event.Type).Warn("Failed to write audit event")
	}
}

// isSignedOut reports errors that only mean the session has no user
func isSignedOut(err error) bool {
	status, _ := errorStatus(err)
	return status == http.StatusUnauthorized
}
