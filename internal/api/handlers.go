package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cronpilot/internal/errs"
	"cronpilot/internal/models"
)

// TaskRequest is the create/update payload for a task.
type TaskRequest struct {
	Name        string                  `json:"name" binding:"required"`
	Description string                  `json:"description"`
	Enabled     *bool                   `json:"enabled"`
	Kind        models.TaskKind         `json:"kind" binding:"required"`
	Config      models.TaskConfig       `json:"config"`
	Trigger     models.Trigger          `json:"trigger" binding:"required"`
	Options     models.ExecutionOptions `json:"options"`
	Conditions  models.Conditions       `json:"conditions"`
	OnSuccess   models.HandlerList      `json:"on_success"`
	OnFailure   models.HandlerList      `json:"on_failure"`
}

func (s *Server) createTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	task := &models.Task{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Kind:        req.Kind,
		Config:      req.Config,
		Trigger:     req.Trigger,
		Options:     req.Options,
		Conditions:  req.Conditions,
		OnSuccess:   req.OnSuccess,
		OnFailure:   req.OnFailure,
	}

	if err := s.engine.CreateTask(c.Request.Context(), task); err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	tasks, err := s.engine.ListTasks(c.Request.Context(), limit, offset)
	if err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	task, err := s.engine.GetTask(c.Request.Context(), id)
	if err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) updateTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.engine.GetTask(c.Request.Context(), id)
	if err != nil {
		respondEngineErr(c, err)
		return
	}

	task.Name = req.Name
	task.Description = req.Description
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	task.Kind = req.Kind
	task.Config = req.Config
	task.Trigger = req.Trigger
	task.Options = req.Options
	task.Conditions = req.Conditions
	task.OnSuccess = req.OnSuccess
	task.OnFailure = req.OnFailure

	if err := s.engine.UpdateTask(c.Request.Context(), task); err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	if err := s.engine.DeleteTask(c.Request.Context(), id); err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task deleted", "id": id})
}

// executeTask handles manual task execution: POST /tasks/:id/execute.
func (s *Server) executeTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	var body struct {
		Reason             string                 `json:"reason"`
		OverrideConditions bool                   `json:"override_conditions"`
		Context            map[string]interface{} `json:"context"`
	}
	_ = c.ShouldBindJSON(&body)

	triggerCtx := body.Context
	if triggerCtx == nil {
		triggerCtx = map[string]interface{}{}
	}
	if body.Reason != "" {
		triggerCtx["reason"] = body.Reason
	}

	execID, err := s.engine.Execute(c.Request.Context(), id.String(), "manual", triggerCtx, body.OverrideConditions)
	if err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": execID})
}

func (s *Server) listTaskExecutions(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	execs, err := s.engine.ListExecutions(c.Request.Context(), id, limit, offset)
	if err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "count": len(execs)})
}

func (s *Server) getExecution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}
	exec, err := s.engine.GetExecution(c.Request.Context(), id)
	if err != nil {
		respondEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// streamProgress serves a running execution's live output as
// server-sent events, falling back to one terminal frame for an
// already-completed execution.
func (s *Server) streamProgress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}

	exec, events, closer, err := s.engine.GetProgress(c.Request.Context(), id)
	if err != nil {
		respondEngineErr(c, err)
		return
	}
	defer closer()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(c.Writer, "event: status\ndata: %s\n\n", exec.Status)
	c.Writer.Flush()

	if exec.Status.IsTerminal() {
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Kind, ev.Chunk+ev.Status)
			c.Writer.Flush()
		}
	}
}

// deliverHook handles the test-only trigger-hook endpoint:
// POST /hooks/:event.
func (s *Server) deliverHook(c *gin.Context) {
	event := c.Param("event")

	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		raw = map[string]interface{}{}
	}

	matched := s.engine.HandleHookEvent(c.Request.Context(), event, raw)
	c.JSON(http.StatusOK, gin.H{"matched": matched})
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id: must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func respondEngineErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrCycle):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrDisabled), errors.Is(err, errs.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
