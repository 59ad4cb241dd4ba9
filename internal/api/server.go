// Package api exposes the credential lifecycle and the Secured Execution
// Pipeline over REST/JSON, following the teacher's mux-router-plus-CORS
// construction (the original internal/api/server.go built its React-facing
// REST surface the same way).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finllm/gateway/internal/authz"
	"github.com/finllm/gateway/internal/credential"
	"github.com/finllm/gateway/internal/delegation"
	"github.com/finllm/gateway/internal/gatewayerr"
	"github.com/finllm/gateway/internal/intent"
	"github.com/finllm/gateway/internal/operator"
	"github.com/finllm/gateway/internal/sep"
	"github.com/finllm/gateway/internal/stream"
)

// Server wires the credential lifecycle, intent parser, delegation
// authority, and secured execution pipeline to HTTP.
type Server struct {
	Operators  *operator.Directory
	Issuer     *credential.Issuer
	BcryptCost int
	Completer  intent.Completer
	Delegation *delegation.Authority
	Pipeline   *sep.Pipeline
	AuditHub   *stream.Hub
	SessionTTL time.Duration
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/auth/login", s.handleLogin).Methods("POST", "OPTIONS")
	r.HandleFunc("/auth/intent", s.handleIntent).Methods("POST", "OPTIONS")
	r.HandleFunc("/auth/delegate", s.handleDelegate).Methods("POST", "OPTIONS")
	r.HandleFunc("/agent/execute", s.handleExecute).Methods("POST", "OPTIONS")
	r.HandleFunc("/admin/audit/stream", s.handleAuditStream).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- /auth/login ---

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

// handleLogin accepts application/x-www-form-urlencoded username+password
// (§4.11, §6), mirroring the original's OAuth2PasswordRequestForm — not a
// JSON body.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, gatewayerr.BadRequest("malformed request body"))
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	rec, err := s.Operators.Lookup(r.Context(), username)
	if err != nil {
		writeError(w, gatewayerr.Internal("operator lookup failed", err))
		return
	}
	if rec == nil || !credential.VerifyPassword(password, rec.PasswordHash) {
		writeError(w, gatewayerr.Unauthorized("invalid username or password"))
		return
	}

	token, _, err := s.Issuer.Issue(rec.Username, rec.Roles, credential.KindSession, s.SessionTTL)
	if err != nil {
		writeError(w, gatewayerr.Internal("failed to issue session token", err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresIn: int(s.SessionTTL.Seconds())})
}

// --- /auth/intent ---

type intentRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticateSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gatewayerr.BadRequest("malformed request body"))
		return
	}

	correlationID := uuid.NewString()
	resp, err := intent.Parse(r.Context(), s.Completer, req.Prompt, claims.Roles)
	if err != nil {
		slog.Warn("api: intent parse failed", "correlation_id", correlationID, "user_sub", claims.Subject, "error", err)
		writeError(w, err)
		return
	}

	slog.Info("api: intent parsed", "correlation_id", correlationID, "user_sub", claims.Subject, "action", resp.Action, "is_safe", resp.IsSafe)
	writeJSON(w, http.StatusOK, resp)
}

// --- /auth/delegate ---

// delegateRequest is the documented /auth/delegate envelope (§4.11):
// UserToken is redundant with the session bearer already authenticated by
// authenticateSession and is accepted but otherwise unused.
type delegateRequest struct {
	UserToken string          `json:"user_token"`
	Intent    intent.Response `json:"intent"`
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticateSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gatewayerr.BadRequest("malformed request body"))
		return
	}

	token, err := s.Delegation.Delegate(claims.Subject, claims.Roles, &req.Intent)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"delegation_token": token})
}

// --- /agent/execute ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req sep.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gatewayerr.BadRequest("malformed request body"))
		return
	}

	correlationID := uuid.NewString()
	result, err := s.Pipeline.Execute(r.Context(), token, req, correlationID, remoteAddr(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- /admin/audit/stream ---

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticateSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !authz.Authorize("audit_transaction", claims.Roles) {
		writeError(w, gatewayerr.Forbidden("your role is not authorized to stream the audit ledger"))
		return
	}
	s.AuditHub.ServeHTTP(w, r)
}

// --- shared helpers ---

func (s *Server) authenticateSession(r *http.Request) (*credential.Claims, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := s.Issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != credential.KindSession {
		return nil, gatewayerr.Unauthorized("token is not an operator session token")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// A browser websocket client cannot set an Authorization header, so
		// a "token" query parameter is accepted when the header is absent.
		// This helper serves every authenticated endpoint, not only the
		// audit stream.
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
		return "", gatewayerr.Unauthorized("missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", gatewayerr.Unauthorized("malformed Authorization header")
	}
	return strings.TrimPrefix(header, prefix), nil
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	gerr, ok := gatewayerr.As(err)
	if !ok {
		gerr = gatewayerr.Internal("internal error", err)
	}
	if gerr.Err != nil {
		slog.Error("api: request failed", "code", gerr.Code, "status", gerr.Status, "error", gerr.Err)
	}
	writeJSON(w, gerr.Status, map[string]string{"detail": gerr.Detail, "code": string(gerr.Code)})
}
