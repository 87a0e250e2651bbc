package server

import (
	"net/http"

	"github.com/aimerfeng/BioLink/internal/apikey"
	apierrors "github.com/aimerfeng/BioLink/internal/errors"
	"github.com/aimerfeng/BioLink/internal/middleware"
	"github.com/gin-gonic/gin"
)

const defaultStatsDays = 30

func (s *APIServer) handleListKeys(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	keys, err := s.svc.Keys.List(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// handleCreateKey returns the plaintext key exactly once
func (s *APIServer) handleCreateKey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req apikey.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.svc.Keys.Create(c.Request.Context(), userID, middleware.GetTier(c), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, resp)
}

func (s *APIServer) handleGetKey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	keyID, ok := pathUUID(c, "id", apierrors.ErrAPIKeyNotFoundError)
	if !ok {
		return
	}

	key, err := s.svc.Keys.Get(c.Request.Context(), userID, keyID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

func (s *APIServer) handleUpdateKey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	keyID, ok := pathUUID(c, "id", apierrors.ErrAPIKeyNotFoundError)
	if !ok {
		return
	}

	var req apikey.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	key, err := s.svc.Keys.Update(c.Request.Context(), userID, middleware.GetTier(c), keyID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

func (s *APIServer) handleDeleteKey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	keyID, ok := pathUUID(c, "id", apierrors.ErrAPIKeyNotFoundError)
	if !ok {
		return
	}

	if err := s.svc.Keys.Delete(c.Request.Context(), userID, keyID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *APIServer) handleKeyStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	keyID, ok := pathUUID(c, "id", apierrors.ErrAPIKeyNotFoundError)
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", defaultStatsDays)
	if !ok {
		return
	}

	stats, err := s.svc.Keys.Stats(c.Request.Context(), userID, keyID, days)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleExternalMe returns the calling key's own record
func (s *APIServer) handleExternalMe(c *gin.Context) {
	key := middleware.GetAPIKey(c)
	if key == nil {
		respondError(c, apierrors.ErrMissingAPIKeyError)
		return
	}
	c.JSON(http.StatusOK, key)
}
