package resource

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
)

// Handler exposes the resource aggregate over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler builds the resource handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the resource routes.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/projects/:project_id/resources", h.createResource)
	e.GET("/projects/:project_id/resources", h.listResources)
	e.GET("/resources/:resource_id", h.getResource)
	e.PATCH("/resources/:resource_id", h.updateResource)
	e.DELETE("/resources/:resource_id", h.deleteResource)
}

type resourceResponse struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Category    string          `json:"category"`
	Spec        json.RawMessage `json:"spec"`
	Status      string          `json:"status"`
	Annotations string          `json:"annotations,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toResourceResponse(r AnnotatedResource) resourceResponse {
	return resourceResponse{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		Name:        r.Name,
		Kind:        r.Kind,
		Category:    r.Category,
		Spec:        json.RawMessage(r.Spec),
		Status:      r.Status,
		Annotations: r.Annotations,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (h *Handler) fail(c echo.Context, op string, err error) error {
	domain.CountError("rpc", "resource", err)
	h.logger.Error(op+" failed", zap.Error(err))
	return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
}

func (h *Handler) createResource(c echo.Context) error {
	p, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	var req struct {
		Kind string          `json:"kind"`
		Spec json.RawMessage `json:"spec"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ev, err := h.svc.CreateResource(c.Request().Context(), p, c.Param("project_id"), req.Kind, string(req.Spec))
	if err != nil {
		return h.fail(c, "CreateResource", err)
	}
	return c.JSON(http.StatusCreated, resourceResponse{
		ID:        ev.ID,
		ProjectID: ev.ProjectID,
		Name:      ev.Name,
		Kind:      ev.Kind,
		Category:  ev.Category,
		Spec:      json.RawMessage(ev.Spec),
		Status:    ev.Status,
		CreatedAt: ev.CreatedAt,
		UpdatedAt: ev.UpdatedAt,
	})
}

func (h *Handler) listResources(c echo.Context) error {
	p, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	resources, err := h.svc.FetchResources(c.Request().Context(), p, c.Param("project_id"), page, pageSize)
	if err != nil {
		return h.fail(c, "FetchResources", err)
	}

	out := make([]resourceResponse, 0, len(resources))
	for _, r := range resources {
		out = append(out, toResourceResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) getResource(c echo.Context) error {
	p, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	res, err := h.svc.FetchResourceByID(c.Request().Context(), p, c.Param("resource_id"))
	if err != nil {
		return h.fail(c, "FetchResourceByID", err)
	}
	return c.JSON(http.StatusOK, toResourceResponse(res))
}

func (h *Handler) updateResource(c echo.Context) error {
	p, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	var req struct {
		SpecPatch json.RawMessage `json:"spec_patch"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ev, err := h.svc.UpdateResource(c.Request().Context(), p, c.Param("resource_id"), string(req.SpecPatch))
	if err != nil {
		return h.fail(c, "UpdateResource", err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"id": ev.ID, "updated_at": ev.UpdatedAt})
}

func (h *Handler) deleteResource(c echo.Context) error {
	p, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	if err := h.svc.DeleteResource(c.Request().Context(), p, c.Param("resource_id")); err != nil {
		return h.fail(c, "DeleteResource", err)
	}
	return c.NoContent(http.StatusNoContent)
}
