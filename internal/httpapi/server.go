// Package httpapi is thin JSON routing over the engine. It owns final error
// serialization: the four engine error kinds map onto HTTP statuses
// unchanged, anything else is sanitized to a generic failure.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
	"github.com/agentworkforce/agenthub/internal/metrics"
)

type ServerConfig struct {
	MaxBodyBytes int64
}

type Server struct {
	store   *agenthub.Store
	cfg     ServerConfig
	logger  zerolog.Logger
	metrics http.Handler
}

func NewServer(store *agenthub.Store, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return NewServerWithConfig(store, m, logger, ServerConfig{})
}

func NewServerWithConfig(store *agenthub.Store, m *metrics.Metrics, logger zerolog.Logger, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var metricsHandler http.Handler = http.NotFoundHandler()
	if m != nil {
		metricsHandler = promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
	}
	return &Server{
		store:   store,
		cfg:     cfg,
		logger:  logger.With().Str("component", "httpapi").Logger(),
		metrics: metricsHandler,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		s.metrics.ServeHTTP(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		return
	}

	switch {
	case parts[1] == "projects" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleCreateProject(w, r)
	case parts[1] == "projects" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleListProjects(w, r)
	case parts[1] == "projects" && len(parts) == 3 && r.Method == http.MethodGet:
		s.handleGetProject(w, r, parts[2])
	case parts[1] == "projects" && len(parts) == 3 && r.Method == http.MethodDelete:
		s.handleDeleteProject(w, r, parts[2])
	case parts[1] == "projects" && len(parts) == 4 && parts[3] == "archive" && r.Method == http.MethodPost:
		s.handleArchiveProject(w, r, parts[2], true)
	case parts[1] == "projects" && len(parts) == 4 && parts[3] == "unarchive" && r.Method == http.MethodPost:
		s.handleArchiveProject(w, r, parts[2], false)
	case parts[1] == "projects" && len(parts) == 4 && parts[3] == "members" && r.Method == http.MethodPost:
		s.handleJoin(w, r, parts[2])
	case parts[1] == "projects" && len(parts) == 4 && parts[3] == "members" && r.Method == http.MethodGet:
		s.handleListMembers(w, r, parts[2])
	case parts[1] == "projects" && len(parts) == 5 && parts[3] == "members" && r.Method == http.MethodDelete:
		s.handleLeave(w, r, parts[2], parts[4])
	case parts[1] == "projects" && len(parts) == 6 && parts[3] == "members" && parts[5] == "heartbeat" && r.Method == http.MethodPost:
		s.handleHeartbeat(w, r, parts[2], parts[4])
	case parts[1] == "projects" && len(parts) == 6 && parts[3] == "members" && parts[5] == "receive" && r.Method == http.MethodPost:
		s.handleReceive(w, r, parts[2], parts[4])
	case parts[1] == "projects" && len(parts) == 6 && parts[3] == "members" && parts[5] == "ack" && r.Method == http.MethodPost:
		s.handleAcknowledge(w, r, parts[2], parts[4])
	case parts[1] == "projects" && len(parts) == 6 && parts[3] == "members" && parts[5] == "stream" && r.Method == http.MethodGet:
		s.handleStream(w, r, parts[2], parts[4])
	case parts[1] == "projects" && len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodPost:
		s.handleSend(w, r, parts[2])
	case parts[1] == "projects" && len(parts) == 4 && parts[3] == "resources" && r.Method == http.MethodGet:
		s.handleListResources(w, r, parts[2])
	case parts[1] == "projects" && len(parts) == 5 && parts[3] == "resources" && r.Method == http.MethodPut:
		s.handlePutResource(w, r, parts[2], parts[4])
	case parts[1] == "projects" && len(parts) == 5 && parts[3] == "resources" && r.Method == http.MethodGet:
		s.handleGetResource(w, r, parts[2], parts[4])
	case parts[1] == "projects" && len(parts) == 5 && parts[3] == "resources" && r.Method == http.MethodDelete:
		s.handleDeleteResource(w, r, parts[2], parts[4])
	case parts[1] == "clients" && len(parts) == 3 && r.Method == http.MethodGet:
		s.handleClientStatus(w, r, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	}
}

type createProjectRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Creator     string `json:"creator"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	project, err := s.store.CreateProject(agenthub.CreateProjectRequest{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Creator:     req.Creator,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, projectID string) {
	wait, timeout := waitParams(r)
	if wait {
		project, ok, err := s.store.AwaitProject(r.Context(), projectID, timeout)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"project": nil, "timedOut": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": project})
		return
	}
	project, err := s.store.GetProject(projectID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, projectID string) {
	caller := r.URL.Query().Get("caller")
	if err := s.store.DeleteProject(projectID, caller); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type archiveRequest struct {
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

func (s *Server) handleArchiveProject(w http.ResponseWriter, r *http.Request, projectID string, archive bool) {
	var req archiveRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var (
		project agenthub.Project
		err     error
	)
	if archive {
		project, err = s.store.ArchiveProject(projectID, req.Caller, req.Reason)
	} else {
		project, err = s.store.UnarchiveProject(projectID, req.Caller)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type joinRequest struct {
	Name         string            `json:"name"`
	ClientID     string            `json:"clientId"`
	Capabilities []string          `json:"capabilities"`
	Labels       map[string]string `json:"labels"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, projectID string) {
	var req joinRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	member, err := s.store.Join(agenthub.JoinRequest{
		ProjectID:    projectID,
		Name:         req.Name,
		ClientID:     req.ClientID,
		Capabilities: req.Capabilities,
		Labels:       req.Labels,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleListMembers(w http.ResponseWriter, _ *http.Request, projectID string) {
	members, err := s.store.ListMembers(projectID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleLeave(w http.ResponseWriter, _ *http.Request, projectID, member string) {
	if err := s.store.Leave(projectID, member); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request, projectID, name string) {
	member, err := s.store.Heartbeat(projectID, name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

type sendRequest struct {
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	Broadcast     bool   `json:"broadcast"`
	ReplyExpected bool   `json:"replyExpected"`
	Payload       string `json:"payload"`
	Priority      string `json:"priority"`
	TraceID       string `json:"traceId"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, projectID string) {
	var req sendRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	result, err := s.store.Send(agenthub.SendRequest{
		ProjectID:     projectID,
		Sender:        req.Sender,
		Recipient:     req.Recipient,
		Broadcast:     req.Broadcast,
		ReplyExpected: req.ReplyExpected,
		Payload:       req.Payload,
		Priority:      req.Priority,
		TraceID:       req.TraceID,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type receiveRequest struct {
	Offset         int     `json:"offset"`
	Limit          int     `json:"limit"`
	Wait           bool    `json:"wait"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request, projectID, member string) {
	var req receiveRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	engineReq := agenthub.ReceiveRequest{
		ProjectID: projectID,
		Member:    member,
		Offset:    req.Offset,
		Limit:     req.Limit,
	}
	if req.Wait {
		timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
		messages, ok, err := s.store.AwaitMessages(r.Context(), engineReq, timeout)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"messages": []agenthub.Message{}, "timedOut": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
		return
	}
	messages, err := s.store.Receive(engineReq)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type ackRequest struct {
	MessageID string `json:"messageId"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request, projectID, member string) {
	var req ackRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.store.Acknowledge(projectID, member, req.MessageID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

type putResourceRequest struct {
	Caller       string                `json:"caller"`
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	MimeType     string                `json:"mimeType"`
	Etag         string                `json:"etag"`
	Content      string                `json:"content"`
	ExternalPath string                `json:"externalPath"`
	Permissions  *agenthub.Permissions `json:"permissions"`
	Metadata     map[string]string     `json:"metadata"`
}

func (s *Server) handlePutResource(w http.ResponseWriter, r *http.Request, projectID, resourceID string) {
	var req putResourceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var content []byte
	if req.Content != "" {
		content = []byte(req.Content)
	}
	resource, err := s.store.PutResource(agenthub.PutResourceRequest{
		ProjectID:    projectID,
		ResourceID:   resourceID,
		Caller:       req.Caller,
		Name:         req.Name,
		Description:  req.Description,
		MimeType:     req.MimeType,
		Etag:         req.Etag,
		Content:      content,
		ExternalPath: req.ExternalPath,
		Permissions:  req.Permissions,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request, projectID, resourceID string) {
	caller := r.URL.Query().Get("caller")
	wait, timeout := waitParams(r)
	if wait {
		resource, content, ok, err := s.store.AwaitResource(r.Context(), projectID, resourceID, caller, timeout)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"resource": nil, "timedOut": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resource": resource, "content": string(content)})
		return
	}
	resource, content, err := s.store.GetResource(projectID, resourceID, caller)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource": resource, "content": string(content)})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request, projectID string) {
	caller := r.URL.Query().Get("caller")
	resources, err := s.store.ListResources(projectID, caller)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request, projectID, resourceID string) {
	caller := r.URL.Query().Get("caller")
	if err := s.store.DeleteResource(projectID, resourceID, caller); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleClientStatus(w http.ResponseWriter, _ *http.Request, clientID string) {
	session, err := s.store.GetClientSession(clientID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", nil)
		return false
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds limit", nil)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", nil)
		return false
	}
	return true
}

// writeEngineError serializes the four engine kinds unchanged and sanitizes
// everything else: internal details never reach the caller.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if e, ok := agenthub.CallerError(err); ok {
		status := http.StatusInternalServerError
		switch e.Kind {
		case agenthub.KindValidation:
			status = http.StatusBadRequest
		case agenthub.KindNotFound:
			status = http.StatusNotFound
		case agenthub.KindPermission:
			status = http.StatusForbidden
		case agenthub.KindConflict:
			status = http.StatusConflict
		}
		writeError(w, status, e.Code, e.Message, e.Details)
		return
	}
	s.logger.Error().Err(err).Msg("engine operation failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func waitParams(r *http.Request) (bool, time.Duration) {
	q := r.URL.Query()
	wait := q.Get("wait") == "true" || q.Get("wait") == "1"
	var timeout time.Duration
	if raw := q.Get("timeout_seconds"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
	}
	return wait, timeout
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	payload := map[string]any{
		"error":   code,
		"message": message,
	}
	if len(details) > 0 {
		payload["details"] = details
	}
	writeJSON(w, status, payload)
}
