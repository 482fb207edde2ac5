package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/domain"
)

// Handler exposes the caller's identity over HTTP.
type Handler struct {
	idp    IdentityProvider
	logger *zap.Logger
}

// NewHandler builds the identity handler.
func NewHandler(idp IdentityProvider, logger *zap.Logger) *Handler {
	return &Handler{idp: idp, logger: logger}
}

// Register mounts the identity routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/me", h.me)
}

func (h *Handler) me(c echo.Context) error {
	principal, ok := GetPrincipal(c.Request().Context())
	if !ok || principal.Kind != CredentialToken {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token credential required"})
	}

	profile, err := h.idp.FetchProfile(c.Request().Context(), bearerToken(c.Request()))
	if err != nil {
		domain.CountError("rpc", "auth", err)
		h.logger.Error("FetchProfile failed", zap.Error(err))
		return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
	}
	return c.JSON(http.StatusOK, profile)
}
