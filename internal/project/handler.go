package project

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// Handler exposes the project aggregate over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler builds the project handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the project routes.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/projects", h.createProject)
	e.GET("/projects", h.listProjects)
	e.GET("/projects/:project_id", h.getProject)
	e.PATCH("/projects/:project_id", h.updateProject)
	e.DELETE("/projects/:project_id", h.deleteProject)
	e.POST("/projects/:project_id/invites", h.inviteUser)
	e.POST("/invites/accept", h.acceptInvite)
	e.DELETE("/projects/:project_id/users/:user_id", h.deleteUser)
}

type projectResponse struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProjectResponse(p repository.Project) projectResponse {
	return projectResponse{
		ID:        p.ID,
		Namespace: p.Namespace,
		Name:      p.Name,
		Owner:     p.Owner,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (h *Handler) fail(c echo.Context, op string, err error) error {
	domain.CountError("rpc", "project", err)
	h.logger.Error(op+" failed", zap.Error(err))
	return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
}

func principal(c echo.Context) (auth.Principal, bool) {
	return auth.GetPrincipal(c.Request().Context())
}

func (h *Handler) createProject(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ev, err := h.svc.CreateProject(c.Request().Context(), p, req.Name)
	if err != nil {
		return h.fail(c, "CreateProject", err)
	}
	return c.JSON(http.StatusCreated, projectResponse{
		ID:        ev.ID,
		Namespace: ev.Namespace,
		Name:      ev.Name,
		Owner:     ev.Owner,
		Status:    ev.Status,
		CreatedAt: ev.CreatedAt,
		UpdatedAt: ev.UpdatedAt,
	})
}

func (h *Handler) listProjects(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	projects, err := h.svc.FetchProjects(c.Request().Context(), p, page, pageSize)
	if err != nil {
		return h.fail(c, "FetchProjects", err)
	}

	out := make([]projectResponse, 0, len(projects))
	for _, prj := range projects {
		out = append(out, toProjectResponse(prj))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) getProject(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	project, err := h.svc.FetchProject(c.Request().Context(), p, c.Param("project_id"))
	if err != nil {
		return h.fail(c, "FetchProject", err)
	}
	return c.JSON(http.StatusOK, toProjectResponse(project))
}

func (h *Handler) updateProject(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	var req struct {
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ev, err := h.svc.UpdateProject(c.Request().Context(), p, c.Param("project_id"), req.Name, req.Status)
	if err != nil {
		return h.fail(c, "UpdateProject", err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"id": ev.ID, "updated_at": ev.UpdatedAt})
}

func (h *Handler) deleteProject(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	if err := h.svc.DeleteProject(c.Request().Context(), p, c.Param("project_id")); err != nil {
		return h.fail(c, "DeleteProject", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) inviteUser(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ev, err := h.svc.InviteUser(c.Request().Context(), p, c.Param("project_id"), req.Email, req.Role)
	if err != nil {
		return h.fail(c, "InviteUser", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"id":         ev.ID,
		"email":      ev.Email,
		"role":       ev.Role,
		"expires_at": ev.ExpiresAt,
	})
}

func (h *Handler) acceptInvite(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ev, err := h.svc.AcceptInvite(c.Request().Context(), p, req.Code)
	if err != nil {
		return h.fail(c, "AcceptInvite", err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"project_id":  ev.ProjectID,
		"role":        ev.Role,
		"accepted_at": ev.AcceptedAt,
	})
}

func (h *Handler) deleteUser(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	if err := h.svc.DeleteUser(c.Request().Context(), p, c.Param("project_id"), c.Param("user_id")); err != nil {
		return h.fail(c, "DeleteUser", err)
	}
	return c.NoContent(http.StatusNoContent)
}
