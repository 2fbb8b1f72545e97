package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/internal/report"
	"github.com/cost-sentinel/cost-sentinel/internal/storage"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// Request/Response types

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateTeamRequest is the request to register a team
type CreateTeamRequest struct {
	DisplayName       string   `json:"display_name" binding:"required"`
	AccountID         string   `json:"account_id" binding:"required,len=12,numeric"`
	NotificationEmail string   `json:"notification_email" binding:"required,email"`
	AdminEmails       []string `json:"admin_emails,omitempty" binding:"omitempty,dive,email"`
}

// UpdateConfigRequest is the request to change the runtime config
type UpdateConfigRequest struct {
	AnomalyThresholdPercent float64  `json:"anomaly_threshold_percent" binding:"required,gt=0"`
	ScheduleDay             string   `json:"schedule_day" binding:"required"`
	ScheduleHourUTC         *int     `json:"schedule_hour" binding:"required,min=0,max=23"`
	AdminEmails             []string `json:"admin_emails,omitempty" binding:"omitempty,dive,email"`
	AIEnabled               bool     `json:"ai_enabled"`
}

// TriggerRunRequest is the request to start a pipeline run
type TriggerRunRequest struct {
	Period  string `json:"period,omitempty"` // "YYYY-MM", defaults to the current month
	Preview bool   `json:"preview,omitempty"`
}

func (s *Server) errorResponse(c *gin.Context, status int, err error) {
	var verrs validator.ValidationErrors
	msg := err.Error()
	if errors.As(err, &verrs) && len(verrs) > 0 {
		msg = fmt.Sprintf("invalid field %q: failed %q validation", verrs[0].Field(), verrs[0].Tag())
	}
	c.JSON(status, ErrorResponse{Error: msg, RequestID: c.GetString("request_id")})
}

// periodQuery parses the optional ?period=YYYY-MM parameter, defaulting
// to the current month.
func (s *Server) periodQuery(c *gin.Context) (models.Period, bool) {
	raw := c.Query("period")
	if raw == "" {
		return models.CurrentPeriod(time.Now().UTC()), true
	}
	period, err := models.ParsePeriod(raw)
	if err != nil {
		s.errorResponse(c, http.StatusBadRequest, err)
		return models.Period{}, false
	}
	return period, true
}

// Health handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.IsReady() {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "not ready", Timestamp: time.Now().UTC()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ready", Timestamp: time.Now().UTC()})
}

// Team handlers

func (s *Server) handleCreateTeam(c *gin.Context) {
	var req CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, err)
		return
	}

	team, err := s.store.AddTeam(c.Request.Context(), models.Team{
		DisplayName:       req.DisplayName,
		AccountID:         req.AccountID,
		NotificationEmail: req.NotificationEmail,
		AdminEmails:       req.AdminEmails,
	})
	if err != nil {
		s.errorResponse(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusCreated, team)
}

func (s *Server) handleListTeams(c *gin.Context) {
	teams, err := s.store.ListTeams(c.Request.Context())
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": teams, "count": len(teams)})
}

func (s *Server) handleGetTeam(c *gin.Context) {
	team, err := s.store.GetTeam(c.Request.Context(), c.Param("id"))
	if err != nil {
		if provider.IsNotFound(err) {
			s.errorResponse(c, http.StatusNotFound, fmt.Errorf("team %s not found", c.Param("id")))
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

func (s *Server) handleDeleteTeam(c *gin.Context) {
	err := s.store.RemoveTeam(c.Request.Context(), c.Param("id"))
	if err != nil {
		if provider.IsNotFound(err) {
			s.errorResponse(c, http.StatusNotFound, fmt.Errorf("team %s not found", c.Param("id")))
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Config handlers

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg, err := s.store.GetConfig(c.Request.Context())
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, err)
		return
	}

	cfg, err := s.store.SaveConfig(c.Request.Context(), models.NotificationConfig{
		AnomalyThresholdPercent: req.AnomalyThresholdPercent,
		ScheduleDay:             req.ScheduleDay,
		ScheduleHourUTC:         *req.ScheduleHourUTC,
		AdminEmails:             req.AdminEmails,
		AIEnabled:               req.AIEnabled,
	})
	if err != nil {
		s.errorResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Run handlers

func (s *Server) handleTriggerRun(c *gin.Context) {
	var req TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, err)
		return
	}

	period := models.CurrentPeriod(time.Now().UTC())
	if req.Period != "" {
		var err error
		period, err = models.ParsePeriod(req.Period)
		if err != nil {
			s.errorResponse(c, http.StatusBadRequest, err)
			return
		}
	}

	trigger := models.TriggerManual
	if req.Preview {
		trigger = models.TriggerPreview
	}

	run, err := s.orch.Trigger(c.Request.Context(), period, trigger)
	if err != nil {
		if errors.Is(err, storage.ErrRunInFlight) {
			s.errorResponse(c, http.StatusConflict, err)
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.errorResponse(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.db.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if provider.IsNotFound(err) {
			s.errorResponse(c, http.StatusNotFound, fmt.Errorf("run %s not found", c.Param("id")))
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// Report handlers

// handleTeamReport serves the single-tenant view. The account ID in
// the path is the tenant boundary; every record in the response is
// checked against it before anything is returned.
func (s *Server) handleTeamReport(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := c.Param("account_id")
	if !models.ValidAccountID(accountID) {
		s.errorResponse(c, http.StatusBadRequest, fmt.Errorf("invalid account_id %q", accountID))
		return
	}

	period, ok := s.periodQuery(c)
	if !ok {
		return
	}

	team, err := s.store.GetTeamByAccount(ctx, accountID)
	if err != nil {
		if provider.IsNotFound(err) {
			s.errorResponse(c, http.StatusNotFound, fmt.Errorf("no team registered for account %s", accountID))
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}

	in, err := s.loadTeamInput(c, *team, period)
	if err != nil {
		return // response already written
	}

	teamReport, err := report.ComposeTeam(*in)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, teamReport)
}

// loadTeamInput gathers one account's records for a period. Writes the
// error response itself and returns nil on failure.
func (s *Server) loadTeamInput(c *gin.Context, team models.Team, period models.Period) (*report.TeamInput, error) {
	ctx := c.Request.Context()

	current, err := s.store.GetSnapshot(ctx, period, team.AccountID)
	if err != nil {
		if provider.IsNotFound(err) {
			err = fmt.Errorf("no data for account %s in %s; has a run completed?", team.AccountID, period)
			s.errorResponse(c, http.StatusNotFound, err)
			return nil, err
		}
		s.errorResponse(c, http.StatusInternalServerError, err)
		return nil, err
	}

	previous, err := s.store.GetSnapshot(ctx, period.Previous(), team.AccountID)
	if err != nil && !provider.IsNotFound(err) {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return nil, err
	}

	anomalies, err := s.store.GetAnomalies(ctx, period)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return nil, err
	}
	var anomaly *models.Anomaly
	for i := range anomalies {
		if anomalies[i].AccountID == team.AccountID {
			anomaly = &anomalies[i]
			break
		}
	}
	if anomaly == nil {
		err = fmt.Errorf("no analysis for account %s in %s", team.AccountID, period)
		s.errorResponse(c, http.StatusNotFound, err)
		return nil, err
	}

	insight, err := s.store.GetInsight(ctx, period, team.AccountID)
	if err != nil && !provider.IsNotFound(err) {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return nil, err
	}

	return &report.TeamInput{
		Team:     team,
		Period:   period,
		Current:  current,
		Previous: previous,
		Anomaly:  anomaly,
		Insight:  insight,
	}, nil
}

func (s *Server) handleAdminReport(c *gin.Context) {
	ctx := c.Request.Context()
	period, ok := s.periodQuery(c)
	if !ok {
		return
	}

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}

	anomalies, err := s.store.GetAnomalies(ctx, period)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	anomalyByAccount := make(map[string]*models.Anomaly, len(anomalies))
	for i := range anomalies {
		anomalyByAccount[anomalies[i].AccountID] = &anomalies[i]
	}

	var succeeded []report.TeamInput
	for _, team := range teams {
		current, err := s.store.GetSnapshot(ctx, period, team.AccountID)
		if err != nil {
			if provider.IsNotFound(err) {
				continue
			}
			s.errorResponse(c, http.StatusInternalServerError, err)
			return
		}
		anomaly := anomalyByAccount[team.AccountID]
		if anomaly == nil {
			continue
		}

		previous, err := s.store.GetSnapshot(ctx, period.Previous(), team.AccountID)
		if err != nil && !provider.IsNotFound(err) {
			s.errorResponse(c, http.StatusInternalServerError, err)
			return
		}
		insight, err := s.store.GetInsight(ctx, period, team.AccountID)
		if err != nil && !provider.IsNotFound(err) {
			s.errorResponse(c, http.StatusInternalServerError, err)
			return
		}

		succeeded = append(succeeded, report.TeamInput{
			Team:     team,
			Period:   period,
			Current:  current,
			Previous: previous,
			Anomaly:  anomaly,
			Insight:  insight,
		})
	}

	adminReport := report.ComposeAdmin(report.AdminInput{
		Period:    period,
		Succeeded: succeeded,
		Failures:  s.runFailures(c, period),
	})
	c.JSON(http.StatusOK, adminReport)
}

// runFailures pulls the failure list from the most recent finished run
// for the period, so the admin view names the accounts a run skipped.
func (s *Server) runFailures(c *gin.Context, period models.Period) []models.AccountFailure {
	runs, err := s.db.ListRuns(c.Request.Context(), 200)
	if err != nil {
		s.logger.Error("failed to list runs for admin report", "error", err)
		return nil
	}
	for _, run := range runs {
		if run.Period == period && run.State.Terminal() {
			return run.Failures
		}
	}
	return nil
}

// Raw data handlers

func (s *Server) handleCostHistory(c *gin.Context) {
	q := storage.HistoryQuery{AccountID: c.Query("account_id")}
	if q.AccountID != "" && !models.ValidAccountID(q.AccountID) {
		s.errorResponse(c, http.StatusBadRequest, fmt.Errorf("invalid account_id %q", q.AccountID))
		return
	}

	if raw := c.Query("period"); raw != "" {
		period, err := models.ParsePeriod(raw)
		if err != nil {
			s.errorResponse(c, http.StatusBadRequest, err)
			return
		}
		q.Period = &period
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.errorResponse(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		q.Limit = parsed
	}

	snapshots, err := s.store.CostHistory(c.Request.Context(), q)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "count": len(snapshots)})
}

func (s *Server) handleAnomalies(c *gin.Context) {
	period, ok := s.periodQuery(c)
	if !ok {
		return
	}

	anomalies, err := s.store.GetAnomalies(c.Request.Context(), period)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "anomalies": anomalies, "count": len(anomalies)})
}
