package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/datachat-io/datachat/pkg/auth"
	"github.com/datachat-io/datachat/pkg/session"
)

// sessionContextKey carries the authenticated session through the request
// context.
type sessionContextKey struct{}

// sessionInfo is the two-part session handle handlers work with.
type sessionInfo struct {
	ID     string
	Fields map[string]string
}

// credentials is the request body for signup and login.
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// messageResponse is the generic informational response body.
type messageResponse struct {
	Message string `json:"message"`
}

// errorResponse is the generic error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// handleSignup registers a new user account.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "e-mail and password are required"})
		return
	}

	_, err := s.users.Register(r.Context(), creds.Email, creds.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("signup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: "user successfully registered"})
}

// handleLogin verifies credentials, creates a session owned by the user, and
// sets the session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "e-mail and password are required"})
		return
	}

	user, err := s.users.Authenticate(r.Context(), creds.Email, creds.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	id, err := s.sessions.Create(r.Context())
	if err != nil {
		s.logger.Error("session create failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	if err := s.sessions.Update(r.Context(), id, session.FieldOwnerIdentity, user.Email); err != nil {
		s.logger.Error("session owner update failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    id,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		Path:     "/",
	})

	writeJSON(w, http.StatusOK, messageResponse{Message: "login successful"})
}

// requireSession authenticates the request by its session cookie, refreshes
// the TTL, and stashes the session handle in the request context. An
// unknown or expired session always yields an explicit invalid-session
// response.
func (s *Server) requireSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.cookieName)
		if err != nil || cookie.Value == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication failed: invalid session"})
			return
		}

		id, fields, err := s.sessions.Fetch(r.Context(), cookie.Value)
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication failed: invalid session"})
			return
		}
		if err != nil {
			s.logger.Error("session fetch failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, sessionInfo{ID: id, Fields: fields})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFromContext returns the handle stashed by requireSession.
func sessionFromContext(ctx context.Context) sessionInfo {
	info, _ := ctx.Value(sessionContextKey{}).(sessionInfo)
	return info
}

// handleCheck confirms the session is valid. The TTL refresh already
// happened in requireSession.
func (*Server) handleCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "session is valid"})
}

// progressResponse reports the upload pipeline's progress.
type progressResponse struct {
	Progress string `json:"progress"`
}

// handleProgress reports the upload pipeline's progress field, or 404 when
// no upload has started.
func (*Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())

	progress, ok := info.Fields[session.FieldProgress]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "progress not found"})
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Progress: progress})
}

// databaseResponse reports the session's temporary database.
type databaseResponse struct {
	Database string   `json:"database"`
	Created  bool     `json:"created"`
	Tables   []string `json:"tables"`
}

// handleCreateDatabase provisions the session's temporary database on demand
// and records its identifier in the session immediately, before reporting
// success - otherwise the database would be unreachable to reclamation and
// leak permanently.
func (s *Server) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())

	name, created, err := s.tempDBs.Ensure(r.Context(), info.ID)
	if err != nil {
		s.logger.Error("temp database provisioning failed", "session_id", info.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	if created {
		if err := s.sessions.Update(r.Context(), info.ID, session.FieldDatabaseID, name); err != nil {
			s.logger.Error("recording temp database failed", "session_id", info.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			return
		}
	}

	tables, err := s.tempDBs.Tables(r.Context(), name)
	if err != nil {
		s.logger.Error("listing temp database tables failed", "session_id", info.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, databaseResponse{Database: name, Created: created, Tables: tables})
}

// handleClear releases the session's bulky resources while keeping the
// session alive: temp database tables are dropped and the vector index is
// deleted. Both steps are best effort, matching the reclaim policy.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())

	if dbName := info.Fields[session.FieldDatabaseID]; dbName != "" {
		if err := s.tempDBs.ClearTables(r.Context(), dbName); err != nil {
			s.logger.Warn("clearing temp database tables failed",
				"session_id", info.ID, "database", dbName, "error", err)
		}
	}

	if err := s.indexes.Reclaim(r.Context(), info.Fields); err != nil {
		s.logger.Warn("clearing vector index failed", "session_id", info.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "session cleared"})
}

// handleEnd terminates the session: reclaim every resource first, then
// delete the record, then expire the cookie.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())

	if err := session.End(r.Context(), s.sessions, s.reclaimers, info.ID); err != nil {
		s.logger.Error("ending session failed", "session_id", info.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		Path:     "/",
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, messageResponse{Message: "session ended"})
}

// statusResponse is the JSON body of the health probes.
type statusResponse struct {
	Status string `json:"status"`
}

// handleLiveness answers the kubelet's livenessProbe: the process is up, no
// more. Always 200.
func (*Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// handleReadiness answers the readinessProbe: 200 only in the ready state,
// 503 while starting or draining so the load balancer stops routing before
// the shutdown drain reclaims remaining sessions.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	code := http.StatusOK
	if !s.health.IsReady() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, statusResponse{Status: s.health.State().String()})
}

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
