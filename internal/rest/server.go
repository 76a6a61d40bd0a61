// Package rest serves the read-mostly JSON API: meeting queries, transcript
// upload, synchronous extraction endpoints, and the async process-transcript
// flow polled through get-summary.
package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openminutes/openminutes/internal/extract"
	"github.com/openminutes/openminutes/internal/health"
	"github.com/openminutes/openminutes/internal/integration"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/taskflow"
)

// Deps wires the REST surface to the rest of the backend.
type Deps struct {
	Store        store.Store
	Extractor    *extract.Extractor
	Projector    *taskflow.Projector
	Integrations []integration.Client
	Health       *health.Handler
	Metrics      *observe.Metrics

	// Gateway, when set, is mounted at the WebSocket paths.
	Gateway http.Handler

	Version string
}

// Server is the HTTP API.
type Server struct {
	deps  Deps
	procs *processRegistry
}

// New builds a Server. Call [Server.Router] for the handler to serve.
func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		deps:  deps,
		procs: newProcessRegistry(),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/get-meetings", s.getMeetings)
	r.GET("/get-meeting/:id", s.getMeeting)
	r.GET("/get-summary/:id", s.getSummary)
	r.DELETE("/delete-meeting/:id", s.deleteMeeting)

	r.POST("/save-transcript", s.saveTranscript)
	r.POST("/process-transcript", s.processTranscript)

	r.POST("/identify-speakers", s.identifySpeakers)
	r.POST("/generate-summary", s.generateSummary)
	r.POST("/extract-tasks", s.extractTasks)
	r.POST("/process-transcript-with-tools", s.processWithTools)
	r.POST("/extract-tasks-comprehensive", s.extractTasksComprehensive)

	r.GET("/available-tools", s.availableTools)

	if s.deps.Health != nil {
		r.GET("/healthz", gin.WrapF(s.deps.Health.Healthz))
		r.GET("/readyz", gin.WrapF(s.deps.Health.Readyz))
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.deps.Gateway != nil {
		for _, path := range []string{"/ws/audio", "/ws", "/ws/audio-stream"} {
			r.GET(path, gin.WrapH(s.deps.Gateway))
		}
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": s.deps.Version})
}
