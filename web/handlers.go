package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

// maxSpecBytes bounds uploaded specification documents
const maxSpecBytes = 5 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.gateway.HealthStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	user, err := s.gateway.Sessions().CreateUser(r.Context(), req.Username, req.Email, req.Password, "user")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	token, user, err := s.gateway.Sessions().Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	})
}

// handleLogout invalidates the presented session token
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if len(header) <= 7 || header[:7] != "Bearer " {
		s.writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "bearer token is required"})
		return
	}
	if err := s.gateway.Sessions().Invalidate(header[7:]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegisterSpec ingests a raw spec document. The body is the document
// itself; the display name comes from the name query parameter.
func (s *Server) handleRegisterSpec(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSpecBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read request body"})
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "unnamed"
	}

	doc, endpoints, err := s.gateway.RegisterSpecification(r.Context(), name, raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"document":  doc,
		"endpoints": endpoints,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.gateway.Documents(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.gateway.Document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.gateway.Endpoints(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.gateway.Endpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, endpoint)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gateway.Statistics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDocumentHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.gateway.DocumentHealthStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

type callRequest struct {
	Operation string            `json:"operation,omitempty"`
	Address   string            `json:"address,omitempty"`
	Params    map[string]any    `json:"params,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      any               `json:"body,omitempty"`
}

func (s *Server) handleCallEndpoint(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	resp, err := s.gateway.CallEndpoint(r.Context(), chi.URLParam(r, "id"), userID(r),
		req.Params, req.Headers, req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCallByAddress(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Operation == "" || req.Address == "" {
		s.writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "operation and address are required"})
		return
	}
	resp, err := s.gateway.CallByAddress(r.Context(), chi.URLParam(r, "id"),
		req.Operation, req.Address, userID(r), req.Params, req.Headers, req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfigureAuth(w http.ResponseWriter, r *http.Request) {
	var config types.AuthConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	config.ApiDocumentID = chi.URLParam(r, "id")
	saved, err := s.gateway.ConfigureAuth(r.Context(), &config)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

// handleAuthorize starts the OAuth2 flow for the signed-in user and returns
// the provider URL instead of redirecting, so API clients can drive the
// browser themselves.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if user == nil {
		s.writeError(w, errors.NewKind(errors.KindAuthenticationFailed,
			"Server", "handleAuthorize", "authorization requires a signed-in user"))
		return
	}
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		redirectURI = s.cfg.BaseURL + "/oauth/callback"
	}
	authURL, err := s.gateway.BeginAuthorization(r.Context(), user.ID, chi.URLParam(r, "id"), redirectURI)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

// handleRefreshAuthorization renews the signed-in user's tokens for a
// document from the stored refresh token.
func (s *Server) handleRefreshAuthorization(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if user == nil {
		s.writeError(w, errors.NewKind(errors.KindAuthenticationFailed,
			"Server", "handleRefreshAuthorization", "refresh requires a signed-in user"))
		return
	}
	userAuth, err := s.gateway.RefreshAuthorization(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userAuth)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		s.writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "state and code are required"})
		return
	}
	userAuth, err := s.gateway.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userAuth)
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.gateway.RecentCalls(r.Context(), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleErrorCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.gateway.ErrorLogs(r.Context(), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, calls)
}

// decodeOptionalBody decodes a JSON body, treating an empty body as the zero
// request.
func decodeOptionalBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
