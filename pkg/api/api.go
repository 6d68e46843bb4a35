// Package api implements the HTTP progress surface (spec.md §4.6, §4.7):
// readers join the entity progress record with its fanned-in task set
// and per-task messages, plus a per-agent heartbeat listing. Modeled on
// tarsy's cmd/tarsy/main.go gin wiring and pkg/services health-check
// shape, narrowed to the slice spec.md actually specifies (the rest of
// the topics/users HTTP/CRUD surface is an external collaborator, out of
// scope per spec.md §1).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/codeready-toolchain/scout/pkg/config"
	"github.com/codeready-toolchain/scout/pkg/heartbeat"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
)

// Server wires gin handlers over the progress/heartbeat/queue stores.
type Server struct {
	Progress  *progress.Store
	Heartbeat *heartbeat.Store
	Queue     *queue.Queue
	Agents    *config.AgentRegistry
	Tracer    trace.Tracer // defaults to a no-op tracer when unset

	router *gin.Engine
}

// New builds a Server and registers its routes on a fresh gin engine.
func New(prog *progress.Store, hb *heartbeat.Store, q *queue.Queue, agents *config.AgentRegistry) *Server {
	s := &Server{
		Progress: prog, Heartbeat: hb, Queue: q, Agents: agents,
		Tracer: nooptrace.NewTracerProvider().Tracer("api"),
	}
	s.router = gin.Default()
	s.router.Use(s.tracingMiddleware())
	s.registerRoutes()
	return s
}

// tracingMiddleware starts one span per request, named after the
// matched route rather than the raw path so entity ids don't explode
// span cardinality.
func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tracer := s.Tracer
		if tracer == nil {
			tracer = nooptrace.NewTracerProvider().Tracer("api")
		}
		ctx, span := tracer.Start(c.Request.Context(), "http."+c.Request.Method+" "+c.FullPath(),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// Router exposes the underlying gin engine, e.g. for http.ListenAndServe
// or httptest.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/agents", s.handleListAgents)
	s.router.GET("/progress/:entity_type/:entity_id", s.handleProgress)
	s.router.GET("/progress/:entity_type/:entity_id/ws", s.handleProgressWS)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListAgents reports the last known heartbeat for every agent name
// in the static registry. An agent whose heartbeat TTL expired (spec.md
// §3.5) is reported with an empty Name, surfaced here as "offline".
func (s *Server) handleListAgents(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names := s.Agents.Names()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		rec, err := s.Heartbeat.Get(ctx, name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec.Name == "" {
			out = append(out, gin.H{"name": name, "status": "offline"})
			continue
		}
		out = append(out, gin.H{
			"name":               rec.Name,
			"labels":             rec.Labels,
			"status":             rec.Status,
			"current_task_id":    rec.CurrentTaskID,
			"current_task_label": rec.CurrentTaskLabel,
			"tasks_completed":    rec.TasksCompleted,
			"tasks_failed":       rec.TasksFailed,
			"started_at":         rec.StartedAt,
			"last_heartbeat":     rec.LastHeartbeat,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// handleProgress joins the entity progress record with its fanned-in
// task_ids set and each id's per-task progress message (spec.md §4.6
// "Readers... join the entity record with the task set and the per-task
// messages").
func (s *Server) handleProgress(c *gin.Context) {
	entityType := c.Param("entity_type")
	entityID := c.Param("entity_id")

	body, err := s.snapshot(c.Request.Context(), entityType, entityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) snapshot(ctx context.Context, entityType, entityID string) (gin.H, error) {
	entity, err := s.Progress.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	ids, err := s.Progress.TaskIDs(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	tasks := make(map[string]map[string]string, len(ids))
	for _, id := range ids {
		msg, err := s.Progress.GetTaskProgress(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks[id] = msg
	}
	return gin.H{
		"entity_type": entityType,
		"entity_id":   entityID,
		"phase":       entity.Phase,
		"total":       entity.Total,
		"done":        entity.Done,
		"step":        entity.Step,
		"error_msg":   entity.ErrorMsg,
		"updated_at":  entity.UpdatedAt,
		"tasks":       tasks,
	}, nil
}
