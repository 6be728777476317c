package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/infra/httpserver"
	"lumen-gatherer/internal/planner"
)

const (
	invalidPlansErrMessage     = "invalid plans"
	invalidReferenceErrMessage = "invalid reference"
	invalidTimeoutErrMessage   = "invalid timeout"
	invalidLimitErrMessage     = "invalid limit"
)

type InfoResponse struct {
	Devices []planner.DeviceResult `json:"devices"`
	Errors  []string               `json:"errors,omitempty"`
}

func NewInfoController(gatherer InfoGatherer, registry *planner.Registry) *InfoController {
	return &InfoController{
		gatherer: gatherer,
		registry: registry,
	}
}

var _ httpserver.Controller = &InfoController{}

// InfoController gathers on demand:
//
//	GET /v1/devices/info?plans=label,power&reference=d073d5000001&timeout=2s&limit=10
type InfoController struct {
	gatherer InfoGatherer
	registry *planner.Registry
}

func (c *InfoController) AddRoutes(router *http.ServeMux) {
	router.Handle("GET /v1/plans", c.listPlans())
	router.Handle("GET /v1/devices/info", c.gatherInfo())
}

func (c *InfoController) listPlans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpserver.ReplyJSONResponse(w, http.StatusOK, map[string][]string{"plans": c.registry.Labels()})
	}
}

func (c *InfoController) gatherInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		labels := httpserver.GetQueryParamList(r, "plans")
		if len(labels) == 0 {
			httpserver.ReplyWithError(w, http.StatusBadRequest, invalidPlansErrMessage, "at least one plan is required")
			return
		}
		plans, err := planner.MakePlans(c.registry, labels, nil)
		if err != nil {
			httpserver.ReplyWithError(w, http.StatusBadRequest, invalidPlansErrMessage, err.Error())
			return
		}

		ref, err := discovery.ParseReference(httpserver.GetQueryParam(r, "reference"))
		if err != nil {
			httpserver.ReplyWithError(w, http.StatusBadRequest, invalidReferenceErrMessage, err.Error())
			return
		}

		var opts []planner.CallOption
		if value := httpserver.GetQueryParam(r, "timeout"); value != "" {
			timeout, err := time.ParseDuration(value)
			if err != nil || timeout <= 0 {
				httpserver.ReplyWithError(w, http.StatusBadRequest, invalidTimeoutErrMessage)
				return
			}
			opts = append(opts, planner.WithMessageTimeout(timeout), planner.WithFindTimeout(timeout))
		}
		if value := httpserver.GetQueryParam(r, "limit"); value != "" {
			limit, err := strconv.Atoi(value)
			if err != nil || limit <= 0 {
				httpserver.ReplyWithError(w, http.StatusBadRequest, invalidLimitErrMessage)
				return
			}
			opts = append(opts, planner.WithLimit(limit))
		}

		results, err := c.gatherer.GatherAll(r.Context(), plans, ref, opts...)

		response := InfoResponse{Devices: make([]planner.DeviceResult, 0, len(results))}
		for _, res := range results {
			response.Devices = append(response.Devices, res)
		}
		sort.Slice(response.Devices, func(i, j int) bool { return response.Devices[i].Serial < response.Devices[j].Serial })

		if err != nil {
			var bad *planner.BadRunWithResults
			if !errors.As(err, &bad) {
				slog.Error("gathering device info", slog.Any("error", err))
				httpserver.ReplyWithError(w, http.StatusInternalServerError, "failed to gather device info")
				return
			}
			for _, e := range bad.Errors {
				response.Errors = append(response.Errors, e.Error())
			}
		}

		httpserver.ReplyJSONResponse(w, http.StatusOK, response)
	}
}
