package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-integrations/internal/domain"
	"github.com/smallbiznis/valora-integrations/internal/http/middleware"
	"github.com/smallbiznis/valora-integrations/internal/service/integration"
)

// IntegrationHandler exposes the credential lifecycle over REST.
type IntegrationHandler struct {
	Manager integration.Manager
	Logger  *zap.Logger
}

// NewIntegrationHandler builds the handler.
func NewIntegrationHandler(manager integration.Manager, logger *zap.Logger) *IntegrationHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &IntegrationHandler{Manager: manager, Logger: logger}
}

// List returns the caller's integrations across all providers.
func (h *IntegrationHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		respondUnauthenticated(c)
		return
	}

	summaries, err := h.Manager.ListIntegrations(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"integrations": summaries})
}

// Connect starts the authorization flow for a provider and returns the
// URL the frontend redirects the user to.
func (h *IntegrationHandler) Connect(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		respondUnauthenticated(c)
		return
	}

	var req struct {
		Scopes      []string `json:"scopes"`
		RedirectURI string   `json:"redirect_uri"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri is required."})
		return
	}

	out, err := h.Manager.BeginAuthorization(c.Request.Context(), integration.BeginAuthorizationInput{
		UserID:      userID,
		Provider:    domain.Provider(c.Param("provider")),
		Scopes:      req.Scopes,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorization_url": out.AuthorizationURL,
		"integration_id":    strconv.FormatInt(out.IntegrationID, 10),
	})
}

// Callback completes the flow when the provider redirects back.
func (h *IntegrationHandler) Callback(c *gin.Context) {
	summary, err := h.Manager.HandleCallback(c.Request.Context(), integration.CallbackInput{
		Code:          c.Query("code"),
		State:         c.Query("state"),
		ProviderError: c.Query("error"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"integration": summary})
}

// Refresh forces a token refresh for one of the caller's integrations.
func (h *IntegrationHandler) Refresh(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		respondUnauthenticated(c)
		return
	}
	integrationID, ok := parseID(c)
	if !ok {
		return
	}

	summary, err := h.Manager.Refresh(c.Request.Context(), userID, integrationID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"integration": summary})
}

// Revoke disconnects one of the caller's integrations.
func (h *IntegrationHandler) Revoke(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		respondUnauthenticated(c)
		return
	}
	integrationID, ok := parseID(c)
	if !ok {
		return
	}
	actor, ok := middleware.GetActor(c)
	if !ok {
		actor = "user:" + strconv.FormatInt(userID, 10)
	}

	if err := h.Manager.Revoke(c.Request.Context(), userID, integrationID, actor); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(domain.StatusRevoked)})
}

// Consents lists the scope grant history for one of the caller's
// integrations.
func (h *IntegrationHandler) Consents(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		respondUnauthenticated(c)
		return
	}
	integrationID, ok := parseID(c)
	if !ok {
		return
	}

	consents, err := h.Manager.ListConsents(c.Request.Context(), userID, integrationID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"consents": consents})
}

func (h *IntegrationHandler) respondError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		// Internals stay out of the response body.
		c.JSON(status, gin.H{"error": code, "error_description": "Internal error."})
		return
	}
	c.JSON(status, gin.H{"error": code, "error_description": err.Error()})
}

func statusForCode(code string) int {
	switch code {
	case "invalid_request", "unsupported_scope", "invalid_state":
		return http.StatusBadRequest
	case "authorization_denied":
		return http.StatusForbidden
	case "unknown_provider", "integration_not_found":
		return http.StatusNotFound
	case "invalid_integration_state", "no_refresh_token":
		return http.StatusConflict
	case "provider_rejected":
		return http.StatusUnprocessableEntity
	case "provider_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondUnauthenticated(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing X-User-ID header."})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid integration id."})
		return 0, false
	}
	return id, true
}
