package secret

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
)

// Handler exposes the secret aggregate over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler builds the secret handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the secret routes.
func (h *Handler) Register(e *echo.Echo) {
	g := e.Group("/projects/:project_id/secrets")
	g.POST("", h.createSecret)
	g.GET("", h.listSecrets)
}

type createSecretRequest struct {
	Name string `json:"name"`
}

type secretResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key,omitempty"` // clear key, returned exactly once
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) createSecret(c echo.Context) error {
	principal, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	var req createSecretRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	key, sec, err := h.svc.CreateSecret(c.Request().Context(), principal, c.Param("project_id"), req.Name)
	if err != nil {
		domain.CountError("rpc", "secret", err)
		h.logger.Error("CreateSecret failed", zap.Error(err))
		return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
	}

	return c.JSON(http.StatusCreated, secretResponse{
		ID:        sec.ID,
		Name:      sec.Name,
		Key:       key,
		CreatedAt: sec.CreatedAt,
	})
}

func (h *Handler) listSecrets(c echo.Context) error {
	principal, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	secrets, err := h.svc.FetchSecrets(c.Request().Context(), principal, c.Param("project_id"))
	if err != nil {
		domain.CountError("rpc", "secret", err)
		h.logger.Error("FetchSecrets failed", zap.Error(err))
		return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
	}

	out := make([]secretResponse, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, secretResponse{ID: sec.ID, Name: sec.Name, CreatedAt: sec.CreatedAt})
	}
	return c.JSON(http.StatusOK, out)
}
