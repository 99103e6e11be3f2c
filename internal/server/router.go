package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ferrost/warden/internal/crash"
	"github.com/ferrost/warden/internal/job"
	"github.com/ferrost/warden/internal/probe"
	"github.com/ferrost/warden/internal/watchdog"
)

// CrashStore is the slice of the store the API needs.
type CrashStore interface {
	ListCrashes(ctx context.Context, server string, limit int) ([]crash.Event, error)
	ClearCrashes(ctx context.Context, server string) error
}

// Router provides embeddable HTTP handlers for managing game servers.
// Endpoints (relative to basePath):
//
//	GET    /servers               all supervision statuses
//	GET    /servers/:name         one status
//	POST   /servers/:name/start
//	POST   /servers/:name/stop    query: wait=30s (optional)
//	POST   /servers/:name/kill
//	POST   /servers/:name/send    body: {"command": "..."}
//	GET    /servers/:name/heartbeat   SSE stream of probe samples
//	GET    /servers/:name/crashes query: limit=N
//	DELETE /servers/:name/crashes
//	POST   /servers/:name/backup  enqueue a backup job
//	GET    /jobs                  active jobs
//	GET    /jobs/:id
//	GET    /jobs/:id/events       SSE stream of job progress
type Router struct {
	deps     Deps
	basePath string
}

// Deps carries the collaborators the router exposes. StartBackup and
// Crashes may be nil; their endpoints then report 503.
type Deps struct {
	Watchdog    *watchdog.Watchdog
	Prober      *probe.Prober
	Jobs        *job.Runner
	Crashes     CrashStore
	StartBackup func(ctx context.Context, server string) (string, error)
	Metrics     http.Handler // optional, mounted at /metrics
}

// NewRouter constructs a Router with a configurable basePath, e.g. "/api".
func NewRouter(deps Deps, basePath string) *Router {
	return &Router{deps: deps, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/servers", r.handleStatuses)
	group.GET("/servers/:name", r.handleStatus)
	group.POST("/servers/:name/start", r.handleStart)
	group.POST("/servers/:name/stop", r.handleStop)
	group.POST("/servers/:name/kill", r.handleKill)
	group.POST("/servers/:name/send", r.handleSend)
	group.GET("/servers/:name/heartbeat", r.handleHeartbeat)
	group.GET("/servers/:name/crashes", r.handleListCrashes)
	group.DELETE("/servers/:name/crashes", r.handleClearCrashes)
	group.POST("/servers/:name/backup", r.handleBackup)
	group.GET("/jobs", r.handleJobs)
	group.GET("/jobs/:id", r.handleJob)
	group.GET("/jobs/:id/events", r.handleJobEvents)
	if r.deps.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, deps Deps) *http.Server {
	r := NewRouter(deps, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) server(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server name: allowed [A-Za-z0-9._-]"})
		return "", false
	}
	return name, true
}

func (r *Router) handleStatuses(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.deps.Watchdog.Statuses())
}

func (r *Router) handleStatus(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	st, found := r.deps.Watchdog.Status(name)
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown server: " + name})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	info, err := r.deps.Watchdog.StartServer(name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	wait := 30 * time.Second
	if s := c.Query("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait duration: " + s})
			return
		}
		wait = d
	}
	if err := r.deps.Watchdog.StopServer(name, wait); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKill(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	if err := r.deps.Watchdog.KillServer(name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type sendReq struct {
	Command string `json:"command"`
}

func (r *Router) handleSend(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if err := r.deps.Watchdog.SendCommand(name, req.Command); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListCrashes(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	if r.deps.Crashes == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "crash store not configured"})
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be an integer"})
		return
	}
	events, err := r.deps.Crashes.ListCrashes(c.Request.Context(), name, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleClearCrashes(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	if r.deps.Crashes == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "crash store not configured"})
		return
	}
	if err := r.deps.Crashes.ClearCrashes(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type jobStartedResp struct {
	JobID string `json:"job_id"`
}

func (r *Router) handleBackup(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	if r.deps.StartBackup == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "backups not configured"})
		return
	}
	id, err := r.deps.StartBackup(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, jobStartedResp{JobID: id})
}

func (r *Router) handleJobs(c *gin.Context) {
	if c.Query("all") != "" {
		writeJSON(c, http.StatusOK, r.deps.Jobs.List(0))
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Jobs.ListActive(c.Query("type")))
}

func (r *Router) handleJob(c *gin.Context) {
	snap, found := r.deps.Jobs.Status(c.Param("id"))
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown job: " + c.Param("id")})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}
