package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/health-analytics-server/internal/domain"
	"github.com/health-analytics-server/internal/inference"
	"github.com/health-analytics-server/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"cache":     s.cache.Stats(),
	})
}

// failureEnvelope answers a failed analysis request. The envelope
// always carries a heuristic assessment so the caller has something to
// act on.
func (s *Server) failureEnvelope(c *gin.Context, status int, code, msg string, req *domain.AnalysisRequest) {
	if req == nil {
		req = &domain.AnalysisRequest{}
	}
	apiErr := domain.NewAnalysisError(code, msg, "", c.GetString("request_id"))
	c.JSON(status, domain.AnalysisResponse{
		Success:          false,
		Error:            apiErr.Error(),
		FallbackAnalysis: s.analyzer.FallbackAssessment(req),
	})
}

func (s *Server) handleComprehensiveAnalysis(c *gin.Context) {
	var req domain.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failureEnvelope(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}
	if len(req.Features) == 0 {
		s.failureEnvelope(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "features are required", &req)
		return
	}

	assessment := s.analyzer.ComprehensiveAnalysis(c.Request.Context(), &req)
	assessment.ID = uuid.New().String()

	if s.store != nil {
		rec := &store.AssessmentRecord{
			ID:         assessment.ID,
			PatientRef: req.PatientRef,
			Assessment: assessment,
		}
		if err := s.store.Save(c.Request.Context(), rec); err != nil {
			s.logger.WithError(err).Warn("Failed to persist assessment")
		}
	}

	c.JSON(http.StatusOK, domain.AnalysisResponse{
		Success:    true,
		Assessment: assessment,
	})
}

type domainAnalysisRequest struct {
	Features domain.PatientFeatureSet `json:"features"`
}

func (s *Server) handleDomainAnalysis(c *gin.Context) {
	d := domain.Domain(c.Param("domain"))
	if !d.IsValid() {
		s.failureEnvelope(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "unknown domain: "+c.Param("domain"), nil)
		return
	}

	var req domainAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failureEnvelope(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}
	if len(req.Features) == 0 {
		s.failureEnvelope(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "features are required", nil)
		return
	}

	pred := s.analyzer.AnalyzeDomain(c.Request.Context(), d, req.Features)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"prediction": pred,
	})
}

func (s *Server) handleGetAssessment(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "persistence disabled"})
		return
	}

	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		code := domain.ErrCodeStoreError
		if isNotFound(err) {
			status = http.StatusNotFound
			code = domain.ErrCodeInvalidInput
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   domain.NewAnalysisError(code, err.Error(), "", c.GetString("request_id")),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "assessment": rec})
}

func (s *Server) handleListAssessments(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "assessments": []any{}})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := s.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "assessments": recs})
}

type trainRequest struct {
	Samples [][]float64 `json:"samples"`
	Labels  [][]float64 `json:"labels"`
	Seed    int64       `json:"seed"`
}

func (s *Server) handleTrain(c *gin.Context) {
	if s.trainer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "serving backend has no offline training"})
		return
	}

	d := domain.Domain(c.Param("domain"))
	if !d.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown domain: " + c.Param("domain")})
		return
	}

	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}

	report, err := s.trainer.Train(c.Request.Context(), d, req.Samples, req.Labels, inference.TrainOptions{
		Epochs:          s.training.Epochs,
		BatchSize:       s.training.BatchSize,
		ValidationSplit: s.training.ValidationSplit,
		LearningRate:    s.training.LearningRate,
		Seed:            req.Seed,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
