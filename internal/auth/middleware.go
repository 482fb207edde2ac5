package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// Request headers forming the credential envelope.
const (
	HeaderAPIKey    = "dmtr-api-key"
	HeaderProjectID = "project-id"
)

// SecretVerifier checks an API key against a project's stored secrets.
// Implemented by the secret aggregate.
type SecretVerifier interface {
	VerifySecret(ctx context.Context, projectID, bech32Key string) (repository.ProjectSecret, error)
}

// Middleware resolves the credential envelope into a Principal on the
// request context. Requests without a resolvable credential are rejected
// before reaching any handler; health and metrics endpoints are exempt.
func Middleware(idp IdentityProvider, secrets SecretVerifier, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if path == "/healthz" || path == "/metrics" {
				return next(c)
			}

			ctx := c.Request().Context()

			if bearer := bearerToken(c.Request()); bearer != "" {
				userID, err := idp.VerifyAccessToken(ctx, bearer)
				if err != nil {
					domain.CountError("rpc", "auth", err)
					logger.Warn("access token rejected", zap.Error(err))
					return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
				}
				p := Principal{Kind: CredentialToken, UserID: userID}
				c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
				return next(c)
			}

			if apiKey := c.Request().Header.Get(HeaderAPIKey); apiKey != "" {
				projectID := c.Request().Header.Get(HeaderProjectID)
				if projectID == "" {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "api key requires project-id header"})
				}
				sec, err := secrets.VerifySecret(ctx, projectID, apiKey)
				if err != nil {
					domain.CountError("rpc", "auth", err)
					logger.Warn("api key rejected", zap.String("project_id", projectID), zap.Error(err))
					return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
				}
				p := Principal{Kind: CredentialAPIKey, ProjectID: projectID, SecretID: sec.ID}
				c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
				return next(c)
			}

			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
		}
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
