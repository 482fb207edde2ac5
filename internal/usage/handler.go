package usage

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// Handler exposes usage reports over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler builds the usage handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the usage routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/projects/:project_id/usage", h.projectReport)
	e.GET("/usage/:period", h.aggregatedReport)
}

type reportResponse struct {
	ProjectID        string   `json:"project_id"`
	ProjectNamespace string   `json:"project_namespace"`
	ResourceID       string   `json:"resource_id"`
	ResourceName     string   `json:"resource_name"`
	ResourceKind     string   `json:"resource_kind"`
	Tier             string   `json:"tier"`
	Period           string   `json:"period"`
	Units            int64    `json:"units"`
	IntervalSeconds  float64  `json:"interval_seconds"`
	UnitsCost        *float64 `json:"units_cost,omitempty"`
	MinimumCost      *float64 `json:"minimum_cost,omitempty"`
}

func toReportResponses(reports []repository.UsageReport) []reportResponse {
	out := make([]reportResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, reportResponse{
			ProjectID:        rep.ProjectID,
			ProjectNamespace: rep.ProjectNamespace,
			ResourceID:       rep.ResourceID,
			ResourceName:     rep.ResourceName,
			ResourceKind:     rep.ResourceKind,
			Tier:             rep.Tier,
			Period:           rep.Period,
			Units:            rep.Units,
			IntervalSeconds:  rep.Interval,
			UnitsCost:        rep.UnitsCost,
			MinimumCost:      rep.MinimumCost,
		})
	}
	return out
}

func (h *Handler) fail(c echo.Context, op string, err error) error {
	domain.CountError("rpc", "usage", err)
	h.logger.Error(op+" failed", zap.Error(err))
	return c.JSON(domain.HTTPStatus(err), echo.Map{"error": domain.PublicMessage(err)})
}

func (h *Handler) projectReport(c echo.Context) error {
	p, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	reports, err := h.svc.FetchUsageReport(c.Request().Context(), p, c.Param("project_id"), page, pageSize)
	if err != nil {
		return h.fail(c, "FetchUsageReport", err)
	}
	return c.JSON(http.StatusOK, toReportResponses(reports))
}

func (h *Handler) aggregatedReport(c echo.Context) error {
	p, ok := auth.GetPrincipal(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing credential"})
	}

	reports, err := h.svc.FetchUsageReportAggregated(c.Request().Context(), p, c.Param("period"))
	if err != nil {
		return h.fail(c, "FetchUsageReportAggregated", err)
	}
	return c.JSON(http.StatusOK, toReportResponses(reports))
}
