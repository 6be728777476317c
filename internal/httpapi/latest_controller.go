package httpapi

import (
	"net/http"
	"time"

	"lumen-gatherer/internal/infra/httpserver"
	"lumen-gatherer/internal/protocol"
)

type LatestResponse struct {
	Round   int       `json:"round"`
	Updated time.Time `json:"updated"`
	httpserver.PaginatedResponse
}

func NewLatestController(snapshots Snapshots) *LatestController {
	return &LatestController{snapshots}
}

var _ httpserver.Controller = &LatestController{}

// LatestController serves what the watcher gathered last.
type LatestController struct {
	snapshots Snapshots
}

func (c *LatestController) AddRoutes(router *http.ServeMux) {
	router.Handle("GET /v1/devices/latest", c.listLatest())
	router.Handle("GET /v1/devices/{serial}/latest", c.deviceLatest())
}

func (c *LatestController) listLatest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := httpserver.ExtractPaginationParams(r)
		snapshot := c.snapshots.Latest()

		page := httpserver.Paginate(snapshot.Devices, params)

		httpserver.ReplyJSONResponse(w, http.StatusOK, LatestResponse{
			Round:             snapshot.Round,
			Updated:           snapshot.Updated,
			PaginatedResponse: httpserver.NewPaginatedResponse(page, len(snapshot.Devices), params),
		})
	}
}

func (c *LatestController) deviceLatest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serial, err := protocol.ParseSerial(r.PathValue("serial"))
		if err != nil {
			httpserver.ReplyWithError(w, http.StatusBadRequest, "invalid serial", err.Error())
			return
		}

		res, ok := c.snapshots.Device(serial)
		if !ok {
			httpserver.ReplyWithError(w, http.StatusNotFound, "device not gathered yet")
			return
		}

		httpserver.ReplyJSONResponse(w, http.StatusOK, res)
	}
}
