package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brianmeyer/promptforge/pkg/models"
	"github.com/brianmeyer/promptforge/pkg/promptforge"
)

// RunHandlers exposes the engine's run lifecycle, golden-set, and
// code-loop operations over HTTP, the way a workflow API exposes
// execution lifecycle endpoints over its own router group.
type RunHandlers struct {
	engine *promptforge.Engine
}

// NewRunHandlers builds handlers bound to engine.
func NewRunHandlers(engine *promptforge.Engine) *RunHandlers {
	return &RunHandlers{engine: engine}
}

// RegisterRoutes attaches every run-related endpoint under group.
func (h *RunHandlers) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/runs", h.StartRun)
	group.GET("/runs/:id", h.GetRun)
	group.POST("/runs/:id/cancel", h.CancelRun)
	group.GET("/runs/:id/events", h.StreamEvents)
	group.GET("/variants/:id", h.GetVariant)
	group.POST("/variants/:id/ratings", h.RateVariant)
	group.GET("/task-classes/:taskClass/operator-stats", h.ListOperatorStats)
	group.GET("/task-classes/:taskClass/analytics", h.GetAnalyticsSnapshot)
	group.POST("/golden/runs", h.RunGolden)
	group.POST("/code-loop/runs", h.RunCodeLoop)
}

type startRunRequest struct {
	SessionID     string        `json:"session_id,omitempty"`
	TaskClass     string        `json:"task_class" binding:"required"`
	Task          string        `json:"task,omitempty"`
	Recipe        models.Recipe `json:"recipe" binding:"required"`
	MaxIterations int           `json:"max_iterations" binding:"required,min=1"`
	Strategy      string        `json:"strategy,omitempty"`
	Epsilon       float64       `json:"epsilon,omitempty"`
	MemoryK       int           `json:"memory_k,omitempty"`
	RAGK          int           `json:"rag_k,omitempty"`
	FrameworkMask []string      `json:"framework_mask,omitempty"`
}

func (h *RunHandlers) StartRun(c *gin.Context) {
	var req startRunRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	mask := make(models.FrameworkMask, 0, len(req.FrameworkMask))
	for _, fw := range req.FrameworkMask {
		mask = append(mask, models.Framework(fw))
	}

	run, err := h.engine.StartRun(c.Request.Context(), promptforge.StartRunRequest{
		SessionID:     req.SessionID,
		TaskClass:     models.TaskClass(req.TaskClass),
		Task:          req.Task,
		Baseline:      req.Recipe,
		MaxIterations: req.MaxIterations,
		Strategy:      req.Strategy,
		Epsilon:       req.Epsilon,
		MemoryK:       req.MemoryK,
		RAGK:          req.RAGK,
		FrameworkMask: mask,
	})
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, run)
}

func (h *RunHandlers) GetRun(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	run, err := h.engine.GetRun(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, run)
}

func (h *RunHandlers) CancelRun(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	run, err := h.engine.GetRun(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	if !h.engine.CancelRun(run.TaskClass) {
		respondAPIErrorWithRequestID(c, ErrConflict)
		return
	}
	respondJSON(c, http.StatusAccepted, gin.H{"cancelled": true})
}

// StreamEvents relays the run's lifecycle events to the client over
// server-sent events until the subscriber channel closes or the client
// disconnects.
func (h *RunHandlers) StreamEvents(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}

	events, unsubscribe := h.engine.SubscribeEvents(id)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		}
	})
}

func (h *RunHandlers) GetVariant(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	variant, err := h.engine.GetVariant(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, variant)
}

type rateVariantRequest struct {
	Score   float64 `json:"score" binding:"required"`
	RaterID string  `json:"rater_id" binding:"required"`
	Comment string  `json:"comment,omitempty"`
}

func (h *RunHandlers) RateVariant(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	var req rateVariantRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if err := h.engine.Rate(c.Request.Context(), id, req.Score, req.RaterID, req.Comment); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, gin.H{"rated": true})
}

func (h *RunHandlers) ListOperatorStats(c *gin.Context) {
	taskClass, ok := getParam(c, "taskClass")
	if !ok {
		return
	}
	stats, err := h.engine.ListOperatorStats(c.Request.Context(), models.TaskClass(taskClass))
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, stats)
}

func (h *RunHandlers) GetAnalyticsSnapshot(c *gin.Context) {
	taskClass, ok := getParam(c, "taskClass")
	if !ok {
		return
	}
	snapshot, err := h.engine.GetAnalyticsSnapshot(c.Request.Context(), models.TaskClass(taskClass))
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, snapshot)
}

type runGoldenRequest struct {
	Recipe models.Recipe `json:"recipe" binding:"required"`
	RunID  string        `json:"run_id,omitempty"`
}

func (h *RunHandlers) RunGolden(c *gin.Context) {
	var req runGoldenRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	summary, err := h.engine.RunGolden(c.Request.Context(), req.Recipe, req.RunID)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, summary)
}

type runCodeLoopRequest struct {
	SourceRunID  string        `json:"source_run_id" binding:"required"`
	TaskClass    string        `json:"task_class" binding:"required"`
	Recipe       models.Recipe `json:"recipe" binding:"required"`
	BeforeReward float64       `json:"before_reward"`
}

// RunCodeLoop triggers one criticize/edit/test/decide cycle. The
// post-patch reward is recomputed by rerunning the golden suite against
// the (possibly patched) recipe, since an HTTP request has no way to
// supply a live after-reward closure.
func (h *RunHandlers) RunCodeLoop(c *gin.Context) {
	var req runCodeLoopRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	afterRewardFn := func(ctx context.Context) (float64, float64, error) {
		summary, err := h.engine.RunGolden(ctx, req.Recipe, req.SourceRunID)
		if err != nil {
			return 0, 0, fmt.Errorf("code loop: rerun golden suite: %w", err)
		}
		return summary.AvgTotalReward, summary.PassRate, nil
	}

	decision, err := h.engine.RunCodeLoop(c.Request.Context(), req.SourceRunID, models.TaskClass(req.TaskClass), req.Recipe, req.BeforeReward, afterRewardFn)
	if err != nil {
		if errors.Is(err, promptforge.ErrCodeLoopDisabled) {
			respondAPIErrorWithRequestID(c, err)
			return
		}
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, decision)
}
