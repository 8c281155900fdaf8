package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"skytrail/server/internal/debrief"
	"skytrail/server/internal/gateway"
	"skytrail/server/internal/model"
	"skytrail/server/internal/orchestrator"
	"skytrail/server/internal/session"
)

// handlePlanHop 规划一次 hop，不创建会话。每次结果都不同，禁止中间层缓存。
func (s *Server) handlePlanHop(c *gin.Context) {
	hop := s.orchestrator.PlanHop(c.Request.Context(), c.Query("mission"), c.Query("aircraft"))

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.JSON(http.StatusOK, orchestrator.PlanResponse(hop))
}

// handleCreateHop 规划并创建会话。请求体可以为空，全部取默认值。
func (s *Server) handleCreateHop(c *gin.Context) {
	var req model.CreateHopRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	resp, err := s.orchestrator.CreateHop(c.Request.Context(), req)
	if err != nil {
		s.log.Error("Create hop failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create hop failed"})
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetHop(c *gin.Context) {
	sess, err := s.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeSessionError(c, err, "load session failed")
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteHop(c *gin.Context) {
	if err := s.orchestrator.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeSessionError(c, err, "delete session failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// handleHopEvents 接收作答、确认、tick、暂停与恢复事件。
func (s *Server) handleHopEvents(c *gin.Context) {
	var evt model.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	resp, err := s.orchestrator.OnEvent(c.Request.Context(), c.Param("id"), evt)
	if err != nil {
		status := eventStatus(err)
		if status == http.StatusInternalServerError {
			s.log.Error("Handle event failed", "session_id", c.Param("id"), "type", evt.Type, "error", err)
			c.JSON(status, gin.H{"error": "handle event failed"})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleHopTimeline 返回 seq > after 的事件，after 缺省为 0。
func (s *Server) handleHopTimeline(c *gin.Context) {
	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
			return
		}
		after = v
	}

	events, err := s.orchestrator.Timeline(c.Request.Context(), c.Param("id"), after)
	if err != nil {
		s.writeSessionError(c, err, "load timeline failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleHopStream 升级为 WebSocket，服务端按配置周期推进时钟。
func (s *Server) handleHopStream(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.orchestrator.Get(c.Request.Context(), sessionID); err != nil {
		s.writeSessionError(c, err, "load session failed")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	s.log.Info("Stream connected", "session_id", sessionID, "remote", c.Request.RemoteAddr)

	stream := gateway.NewStream(sessionID, conn, s.orchestrator, s.streamConfig(), s.log)
	if err := stream.Run(); err != nil {
		s.log.Warn("Stream ended with error", "session_id", sessionID, "error", err)
	}
}

// handleDebriefs 最近结束的 hop，limit 缺省 20。
func (s *Server) handleDebriefs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 200)
	}
	if s.debriefs == nil {
		c.JSON(http.StatusOK, []debrief.Record{})
		return
	}

	records, err := s.debriefs.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("Load debriefs failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load debriefs failed"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) writeSessionError(c *gin.Context, err error, msg string) {
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	s.log.Error(msg, "session_id", c.Param("id"), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// eventStatus 事件错误到状态码：格式错误 400，会话不存在 404，业务规则拒绝 409。
func eventStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBadOption), errors.Is(err, orchestrator.ErrUnknownEvent):
		return http.StatusBadRequest
	case orchestrator.IsClientError(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
