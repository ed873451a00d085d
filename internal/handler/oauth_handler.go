package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailfred-go/internal/auth"
	"mailfred-go/internal/service"
)

// OAuthSetup redirects the owner to the consent screen
func (h *Handlers) OAuthSetup(c *gin.Context) {
	if h.oauth == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:   "oauth_disabled",
			Message: "The mailbox backend does not use OAuth2 grants",
			Code:    http.StatusNotImplemented,
		})
		return
	}

	url, err := h.oauth.AuthCodeURL(owner(c))
	if err != nil {
		logrus.WithError(err).Error("Failed to build consent URL")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "oauth_error",
			Message: "Failed to start authorization",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Redirect(http.StatusFound, url)
}

// OAuthCallback stores the grant and restores messages left scheduled while
// the owner's authorization was missing.
func (h *Handlers) OAuthCallback(c *gin.Context) {
	if h.oauth == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:   "oauth_disabled",
			Message: "The mailbox backend does not use OAuth2 grants",
			Code:    http.StatusNotImplemented,
		})
		return
	}

	if reason := c.Query("error"); reason != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "access_denied",
			Message: reason,
			Code:    http.StatusBadRequest,
		})
		return
	}

	ctx := c.Request.Context()
	ownerID, err := h.oauth.Complete(ctx, c.Query("code"), c.Query("state"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_state",
				Message: "Authorization state is invalid or expired",
				Code:    http.StatusBadRequest,
			})
			return
		}
		logrus.WithError(err).Error("Failed to complete authorization")
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "oauth_error",
			Message: "Failed to exchange authorization code",
			Code:    http.StatusBadGateway,
		})
		return
	}

	response := AuthorizedResponse{Success: true, Owner: ownerID}
	result, err := h.reconciler.ReconcileAfterReauth(ctx, ownerID)
	if err != nil {
		logrus.WithError(err).WithField("owner", ownerID).Error("Reconciliation after authorization failed")
		response.ReconcileError = err.Error()
	}
	response.Reconcile = result

	c.JSON(http.StatusOK, response)
}

// Reconcile restores the owner's orphaned scheduled messages on demand
func (h *Handlers) Reconcile(c *gin.Context) {
	result, err := h.reconciler.ReconcileAfterReauth(c.Request.Context(), owner(c))
	if err != nil {
		status := statusFor(err)
		logrus.WithError(err).WithField("owner", owner(c)).Error("Reconciliation failed")
		c.JSON(status, ErrorResponse{
			Error:   service.ErrorCode(err),
			Message: "Failed to reconcile scheduled messages",
			Code:    status,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
