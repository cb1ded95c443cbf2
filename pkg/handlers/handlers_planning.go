package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/scheduler"
)

type runRequest struct {
	TeamID string `json:"team_id" binding:"required"`
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
}

// RunPlanning plans one team over one period
func (h *Handler) RunPlanning(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	period, err := h.parsePeriod(req.From, req.To)
	if err != nil {
		badRequest(c, err)
		return
	}

	summary, err := h.Planner.RunPlanning(c.Request.Context(), req.TeamID, period)
	if err != nil {
		h.respondError(c, err)
		return
	}
	countRuns(c, *summary)
	c.JSON(http.StatusOK, summary)
}

// ListRuns returns the recorded planning runs of a team, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	teamID := c.Query("team_id")
	if teamID == "" {
		badRequest(c, errors.New("team_id is required"))
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(c, fmt.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}
	runs, err := h.Planner.Runs(c.Request.Context(), teamID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"team_id": teamID, "runs": runs})
}

type batchRequest struct {
	TeamIDs []string `json:"team_ids" binding:"required,min=1"`
	From    string   `json:"from" binding:"required"`
	To      string   `json:"to" binding:"required"`
	// ChunkWeeks splits the period into runs of at most this many weeks; 0
	// plans the whole period in one run per team
	ChunkWeeks int `json:"chunk_weeks"`
}

// RunBatch plans several teams over one period split into chunks
func (h *Handler) RunBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	period, err := h.parsePeriod(req.From, req.To)
	if err != nil {
		badRequest(c, err)
		return
	}
	if !period.Valid() {
		badRequest(c, errors.New("to must be after from"))
		return
	}
	if req.ChunkWeeks < 0 {
		badRequest(c, errors.New("chunk_weeks must not be negative"))
		return
	}

	batch := h.Planner.RunAll(c.Request.Context(), req.TeamIDs, period.Weeks(req.ChunkWeeks))
	countRuns(c, batch.Runs...)
	c.JSON(http.StatusOK, batch)
}

// ExpandTemplate previews the instances of a stored template
func (h *Handler) ExpandTemplate(c *gin.Context) {
	period, err := h.parsePeriod(c.Query("from"), c.Query("to"))
	if err != nil {
		badRequest(c, err)
		return
	}
	instances, err := h.Planner.ExpandTemplate(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"template_id": c.Param("id"), "instances": instances})
}

// ConfirmAssignment moves a proposed assignment to confirmed
func (h *Handler) ConfirmAssignment(c *gin.Context) {
	a, err := h.Planner.Confirm(c.Request.Context(), c.Param("id"))
	h.respondAssignment(c, a, err)
}

// DeclineAssignment moves a proposed assignment to rejected
func (h *Handler) DeclineAssignment(c *gin.Context) {
	a, err := h.Planner.Decline(c.Request.Context(), c.Param("id"))
	h.respondAssignment(c, a, err)
}

// CompleteAssignment moves a confirmed assignment to completed
func (h *Handler) CompleteAssignment(c *gin.Context) {
	a, err := h.Planner.Complete(c.Request.Context(), c.Param("id"))
	h.respondAssignment(c, a, err)
}

// CancelAssignment cancels a proposed or confirmed assignment
func (h *Handler) CancelAssignment(c *gin.Context) {
	a, err := h.Planner.Cancel(c.Request.Context(), c.Param("id"))
	h.respondAssignment(c, a, err)
}

// AssignmentHistory returns the audit trail of an assignment
func (h *Handler) AssignmentHistory(c *gin.Context) {
	history, err := h.Planner.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment_id": c.Param("id"), "history": history})
}

func (h *Handler) respondAssignment(c *gin.Context, a *models.Assignment, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type swapRequest struct {
	RequesterID        string `json:"requester_id" binding:"required"`
	SourceAssignmentID string `json:"source_assignment_id" binding:"required"`
	TargetUserID       string `json:"target_user_id"`
	TargetAssignmentID string `json:"target_assignment_id"`
	TargetInstanceID   string `json:"target_instance_id"`
	Note               string `json:"note"`
	ExpiresAt          string `json:"expires_at"`
}

// SubmitSwap stores a pending swap request
func (h *Handler) SubmitSwap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sub := scheduler.SwapSubmission{
		RequesterID:        req.RequesterID,
		SourceAssignmentID: req.SourceAssignmentID,
		TargetUserID:       req.TargetUserID,
		TargetAssignmentID: req.TargetAssignmentID,
		TargetInstanceID:   req.TargetInstanceID,
		Note:               req.Note,
	}
	if req.ExpiresAt != "" {
		t, err := h.parseTime("expires_at", req.ExpiresAt)
		if err != nil {
			badRequest(c, err)
			return
		}
		sub.ExpiresAt = t
	}

	swap, err := h.Planner.SubmitSwap(c.Request.Context(), sub)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, swap)
}

// EvaluateSwap accepts or rejects a pending swap request. A rejection is a
// normal outcome and answers 200 with the reason.
func (h *Handler) EvaluateSwap(c *gin.Context) {
	outcome, err := h.Planner.EvaluateSwap(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// Sweep expires overdue proposals and swap requests now
func (h *Handler) Sweep(c *gin.Context) {
	result, err := h.Planner.SweepExpirations(c.Request.Context(), h.now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetLedger returns a user's year-to-date counters per category
func (h *Handler) GetLedger(c *gin.Context) {
	userID := c.Param("user_id")
	counters, err := h.Planner.LedgerFor(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "ytd": counters})
}
