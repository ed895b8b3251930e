package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskquorum/api/internal/domain"
	"github.com/taskquorum/api/internal/repository"
	"github.com/taskquorum/api/internal/service/auth"
	"github.com/taskquorum/api/internal/service/task"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auth       auth.Service
	tasks      task.Service
	limiter    RateLimiter
	cookieName string
	sessionTTL time.Duration
	dbHealth   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateLimitSignup     = 5
	rateLimitLogin      = 12
	rateLimitUserWrite  = 60
	rateLimitUserRead   = 120
	rateLimitPublicRead = 120
	healthCheckTimeout  = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, taskSvc task.Service, limiter RateLimiter, cookieName string, sessionTTL time.Duration, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		auth:       authSvc,
		tasks:      taskSvc,
		limiter:    limiter,
		cookieName: cookieName,
		sessionTTL: sessionTTL,
		dbHealth:   dbHealth,
	}
	if r.cookieName == "" {
		r.cookieName = "tq_session"
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit(r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/logout", r.audit(r.handlerAuthRate("/auth/logout", rateLimitUserWrite, rateWindowDefault, r.handleLogout)))
	r.mux.HandleFunc("/me", r.audit(r.handlerAuthRate("/me", rateLimitUserRead, rateWindowDefault, r.handleMe)))
	r.mux.HandleFunc("/dashboard", r.audit(r.handlerAuthRate("/dashboard", rateLimitUserRead, rateWindowDefault, r.handleDashboard)))
	r.mux.HandleFunc("/users", r.audit(r.handlerAuthRate("/users", rateLimitUserRead, rateWindowDefault, r.requireRole(domain.RoleAdmin, r.handleUsers))))
	r.mux.HandleFunc("/tasks", r.audit(r.handlerAuthRate("/tasks", rateLimitUserWrite, rateWindowDefault, r.handleTasks)))
	r.mux.HandleFunc("/tasks/", r.audit(r.handlerAuthRate("/tasks/", rateLimitUserWrite, rateWindowDefault, r.handleTaskSubroutes)))
	r.mux.HandleFunc("/api/tasks", r.audit(r.withRateLimit("/api/tasks", rateLimitPublicRead, rateWindowDefault, rateLimitKeyIP, r.handleAPITasks)))
	r.mux.HandleFunc("/api/tasks/", r.audit(r.withRateLimit("/api/tasks/", rateLimitPublicRead, rateWindowDefault, rateLimitKeyIP, r.handleAPITaskSubroutes)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := r.auth.Register(req.Context(), payload.Username, payload.Password, payload.FullName, domain.Role(payload.Role))
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": marshalUser(*user)})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, token, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(r.sessionTTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"session": marshalSession(*sess),
		"token":   token,
	})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	token, err := r.sessionToken(req)
	if err == nil {
		if err := r.auth.Logout(req.Context(), token); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	writeJSON(w, http.StatusOK, marshalSession(sess))
}

func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	dashboard, err := r.tasks.DashboardFor(req.Context(), sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	users := make([]map[string]any, 0, len(dashboard.Users))
	for _, u := range dashboard.Users {
		users = append(users, marshalUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":   marshalTasks(dashboard.Tasks),
		"percent": dashboard.Percent,
		"users":   users,
	})
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	users, err := r.tasks.AssignableUsers(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(users))
	for _, u := range users {
		payload = append(payload, marshalUser(u))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleTasks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Title         string   `json:"title"`
		AssignedUsers []string `json:"assigned_users"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for task creation", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	created, err := r.tasks.Create(req.Context(), sess, payload.Title, payload.AssignedUsers)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidReference) {
			writeError(w, http.StatusBadRequest, "unknown user in assignee set")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, marshalTask(*created))
}

func (r *Router) handleTaskSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/tasks/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	taskID := parts[0]
	if len(parts) == 2 && parts[1] == "complete" {
		r.handleTaskComplete(w, req, taskID)
		return
	}
	if len(parts) == 1 {
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		r.handleTaskDelete(w, req, taskID)
		return
	}
	r.notFound(w)
}

func (r *Router) handleTaskComplete(w http.ResponseWriter, req *http.Request, taskID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for task completion", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	updated, err := r.tasks.MarkComplete(req.Context(), sess, taskID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			r.notFound(w)
		case errors.Is(err, repository.ErrNotAssigned):
			writeError(w, http.StatusForbidden, "not assigned to this task")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, marshalTask(*updated))
}

func (r *Router) handleTaskDelete(w http.ResponseWriter, req *http.Request, taskID string) {
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for task deletion", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.tasks.Delete(req.Context(), sess, taskID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			r.notFound(w)
		case errors.Is(err, task.ErrForbidden):
			writeError(w, http.StatusForbidden, "only the creator or an admin may delete a task")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleAPITasks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tasks, err := r.tasks.ListAll(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		item := marshalTask(t.Task)
		item["creator_username"] = t.CreatorUsername
		item["creator_full_name"] = t.CreatorFullName
		payload = append(payload, item)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleAPITaskSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/tasks/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}

	var (
		tasks []domain.Task
		err   error
	)
	switch {
	case parts[0] == "user" && len(parts) == 2 && parts[1] != "":
		tasks, err = r.tasks.ListByUsername(req.Context(), parts[1])
	case parts[0] == "today" && len(parts) == 1:
		tasks, err = r.tasks.ListToday(req.Context(), time.Now())
	case parts[0] == "unfinished" && len(parts) == 1:
		tasks, err = r.tasks.ListUnfinished(req.Context())
	case parts[0] == "search" && len(parts) == 1:
		prefix := strings.TrimSpace(req.URL.Query().Get("creator_prefix"))
		if prefix == "" {
			writeError(w, http.StatusBadRequest, "creator_prefix query parameter required")
			return
		}
		tasks, err = r.tasks.SearchByCreatorName(req.Context(), prefix)
	case len(parts) == 2 && parts[1] == "events":
		r.handleTaskEvents(w, req, parts[0])
		return
	default:
		r.notFound(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marshalTasks(tasks))
}

func (r *Router) handleTaskEvents(w http.ResponseWriter, req *http.Request, taskID string) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	taskEvents, err := r.tasks.Events(req.Context(), taskID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(taskEvents))
	for _, e := range taskEvents {
		payload = append(payload, map[string]any{
			"id":          e.ID,
			"task_id":     e.TaskID,
			"event_type":  e.EventType,
			"actor_id":    e.ActorID,
			"payload":     e.Payload,
			"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
			"recorded_at": e.RecordedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func marshalUser(u domain.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"full_name":  u.FullName,
		"role":       u.Role,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func marshalSession(s domain.Session) map[string]any {
	return map[string]any{
		"user_id":   s.UserID,
		"username":  s.Username,
		"full_name": s.FullName,
		"role":      s.Role,
	}
}

func marshalTask(t domain.Task) map[string]any {
	item := map[string]any{
		"id":             t.ID,
		"title":          t.Title,
		"creator_id":     t.CreatorID,
		"assigned_users": t.AssignedUsers,
		"completed_by":   t.CompletedBy,
		"is_done":        t.IsDone,
		"created_at":     t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.DoneAt != nil {
		item["done_at"] = t.DoneAt.UTC().Format(time.RFC3339Nano)
	} else {
		item["done_at"] = nil
	}
	return item
}

func marshalTasks(tasks []domain.Task) []map[string]any {
	payload := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		payload = append(payload, marshalTask(t))
	}
	return payload
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if sess, ok := sessionFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", sess.UserID, "role", sess.Role)
		}
		fields = append(fields, "actor", actor)
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
