package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"skytrail/server/internal/catalog"
	"skytrail/server/internal/grading"
	"skytrail/server/internal/model"
)

// handleSimQuestions 随机抽一套模拟考。
func (s *Server) handleSimQuestions(c *gin.Context) {
	questions, err := s.catalog.All(c.Request.Context())
	if err != nil {
		s.log.Error("Load questions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load questions failed"})
		return
	}
	c.JSON(http.StatusOK, grading.Draw(questions, grading.SimSize, s.rng))
}

// handleSimGrade 按答案键判分，未知题目判错。
func (s *Server) handleSimGrade(c *gin.Context) {
	var req model.SimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	questions, err := s.catalog.All(c.Request.Context())
	if err != nil {
		s.log.Error("Load answer key failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load answer key failed"})
		return
	}
	c.JSON(http.StatusOK, grading.Grade(grading.NewAnswerKey(questions), req))
}

// handleQuestions 题库浏览：q 为题号、章节前缀或文本，section 为章节号。
func (s *Server) handleQuestions(c *gin.Context) {
	var section *int
	if raw := strings.TrimSpace(c.Query("section")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "section must be an integer"})
			return
		}
		section = &n
	}

	questions, err := s.catalog.Search(c.Request.Context(), c.Query("q"), section)
	if err != nil {
		s.log.Error("Search questions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	if questions == nil {
		questions = []model.QuestionRecord{}
	}
	c.JSON(http.StatusOK, questions)
}

func (s *Server) handleRefs(c *gin.Context) {
	questionID := strings.TrimSpace(c.Query("questionId"))
	if questionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "questionId is required"})
		return
	}

	refs, err := s.catalog.References(c.Request.Context(), questionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNoReferences) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no references found"})
			return
		}
		s.log.Error("Load references failed", "question_id", questionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load references failed"})
		return
	}
	c.JSON(http.StatusOK, refs)
}

// handleProgress 按章节的掌握度与最薄弱的题目。
func (s *Server) handleProgress(c *gin.Context) {
	summary, err := s.orchestrator.Progress(c.Request.Context())
	if err != nil {
		s.log.Error("Load progress failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load progress failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
