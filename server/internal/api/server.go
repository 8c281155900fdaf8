package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"skytrail/server/internal/config"
	"skytrail/server/internal/debrief"
	"skytrail/server/internal/gateway"
	"skytrail/server/internal/logger"
	"skytrail/server/internal/model"
	"skytrail/server/internal/orchestrator"
	"skytrail/server/internal/rng"
)

// Catalog API 层需要的题库能力；*catalog.Store 满足该接口。
type Catalog interface {
	All(ctx context.Context) ([]model.QuestionRecord, error)
	Search(ctx context.Context, query string, section *int) ([]model.QuestionRecord, error)
	References(ctx context.Context, questionID string) ([]model.Reference, error)
	Ping(ctx context.Context) error
}

// DebriefLister 已结束 hop 的复盘记录查询。
type DebriefLister interface {
	Recent(ctx context.Context, limit int) ([]debrief.Record, error)
}

type Server struct {
	config       *config.Config
	orchestrator *orchestrator.Orchestrator
	catalog      Catalog
	debriefs     DebriefLister
	rng          rng.Source
	log          *logger.Logger

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, cat Catalog, r rng.Source, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if r == nil {
		r = rng.NewSeeded(uint64(time.Now().UnixNano()))
	}
	origins := cfg.CORS.AllowOrigins
	return &Server{
		config:       cfg,
		orchestrator: orch,
		catalog:      cat,
		rng:          r,
		log:          log.With("component", "api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// 非浏览器客户端不带 Origin；未配置白名单时全部放行。
				return origin == "" || len(origins) == 0 || slices.Contains(origins, origin)
			},
		},
	}
}

// WithDebriefs 挂上复盘记录查询；未设置时 /api/debriefs 返回空列表。
func (s *Server) WithDebriefs(d DebriefLister) *Server {
	s.debriefs = d
	return s
}

func (s *Server) Routes() http.Handler {
	corsConfig := cors.Config{
		AllowOrigins:     s.config.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowCredentials = false
		corsConfig.AllowAllOrigins = true
	}

	engine := gin.New()
	engine.Use(
		gin.Logger(),
		gin.Recovery(),
		otelgin.Middleware(s.config.Tracing.ServiceName),
		cors.New(corsConfig),
	)

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/hop", s.handlePlanHop)

	api := engine.Group("/api")
	api.POST("/hops", s.handleCreateHop)
	api.GET("/hops/:id", s.handleGetHop)
	api.DELETE("/hops/:id", s.handleDeleteHop)
	api.POST("/hops/:id/events", s.handleHopEvents)
	api.GET("/hops/:id/timeline", s.handleHopTimeline)
	api.GET("/hops/:id/stream", s.handleHopStream)
	api.GET("/debriefs", s.handleDebriefs)

	api.GET("/sim", s.handleSimQuestions)
	api.POST("/sim", s.handleSimGrade)
	api.GET("/questions", s.handleQuestions)
	api.GET("/refs", s.handleRefs)
	api.GET("/progress", s.handleProgress)
	return engine
}

// handleHealthz 探测题库连接，断开时返回 503。
func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.catalog.Ping(c.Request.Context()); err != nil {
		s.log.Warn("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "database": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "connected"})
}

func (s *Server) streamConfig() gateway.StreamConfig {
	return gateway.StreamConfig{
		TickInterval: s.config.Stream.TickInterval,
		PingInterval: s.config.Stream.PingInterval,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
}
