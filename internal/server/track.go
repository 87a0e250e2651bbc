package server

import (
	"net/http"

	"github.com/aimerfeng/BioLink/internal/analytics"
	apierrors "github.com/aimerfeng/BioLink/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TrackViewRequest is a profile page view reported by the public site
type TrackViewRequest struct {
	UserID   uuid.UUID `json:"user_id" binding:"required"`
	Referrer string    `json:"referrer"`
}

// TrackClickRequest is a click on one of the profile's links
type TrackClickRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	LinkID uuid.UUID `json:"link_id" binding:"required"`
}

// TrackFollowRequest is a new follower of the profile
type TrackFollowRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// profileExists answers 404 for events about users that do not exist
func (s *APIServer) profileExists(c *gin.Context, userID uuid.UUID) bool {
	if _, err := s.svc.Accounts.Tier(c.Request.Context(), userID); err != nil {
		respondServiceError(c, err)
		return false
	}
	return true
}

func (s *APIServer) handleTrackView(c *gin.Context) {
	var req TrackViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if !s.profileExists(c, req.UserID) {
		return
	}

	referrer := req.Referrer
	if referrer == "" {
		referrer = c.GetHeader("Referer")
	}
	fingerprint := analytics.Fingerprint(c.ClientIP(), c.Request.UserAgent())

	if err := s.svc.Tracker.RecordProfileView(c.Request.Context(), req.UserID, referrer, fingerprint); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *APIServer) handleTrackClick(c *gin.Context) {
	var req TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if !s.profileExists(c, req.UserID) {
		return
	}

	if err := s.svc.Tracker.RecordLinkClick(c.Request.Context(), req.UserID, req.LinkID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *APIServer) handleTrackFollow(c *gin.Context) {
	var req TrackFollowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if !s.profileExists(c, req.UserID) {
		return
	}

	if err := s.svc.Tracker.RecordFollow(c.Request.Context(), req.UserID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
