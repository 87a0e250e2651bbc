package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aimerfeng/BioLink/internal/analytics"
	apierrors "github.com/aimerfeng/BioLink/internal/errors"
	"github.com/aimerfeng/BioLink/internal/middleware"
	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	defaultSeriesDays    = 7
	defaultBreakdownDays = 30
	defaultExportDays    = 30
)

// Analytics handlers serve both the dashboard and the external API; the
// caller's user and tier come from whichever authenticator ran.

func (s *APIServer) handleOverview(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ov, err := s.svc.Analytics.Overview(c.Request.Context(), userID, middleware.GetTier(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (s *APIServer) handleDaily(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", defaultSeriesDays)
	if !ok {
		return
	}

	series, err := s.svc.Analytics.DailySeries(c.Request.Context(), userID, middleware.GetTier(c), days)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *APIServer) handleLinks(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", defaultBreakdownDays)
	if !ok {
		return
	}

	res, err := s.svc.Analytics.LinkBreakdown(c.Request.Context(), userID, middleware.GetTier(c), days)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *APIServer) handleReferrers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", defaultBreakdownDays)
	if !ok {
		return
	}

	res, err := s.svc.Analytics.Referrers(c.Request.Context(), userID, middleware.GetTier(c), days)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleExport streams an attachment. from and to are ISO dates; to defaults
// to today and from to the 30 days ending at to.
func (s *APIServer) handleExport(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	format, err := analytics.ParseExportFormat(c.Query("format"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	to := s.svc.Analytics.Gate().Today()
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(models.DayLayout, raw); err != nil {
			respondError(c, apierrors.NewValidationError(map[string]string{"to": "must be a date in YYYY-MM-DD form"}))
			return
		}
	}
	from := to.AddDate(0, 0, -(defaultExportDays - 1))
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(models.DayLayout, raw); err != nil {
			respondError(c, apierrors.NewValidationError(map[string]string{"from": "must be a date in YYYY-MM-DD form"}))
			return
		}
	}

	file, err := s.svc.Analytics.Export(c.Request.Context(), userID, middleware.GetTier(c), from, to, format)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
