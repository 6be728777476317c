package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

const (
	_defaultPage  = 1
	_defaultLimit = 10
	_maxLimit     = 100
)

type ErrorResponse struct {
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

func ReplyWithError(w http.ResponseWriter, statusCode int, errMsg string, details ...string) {
	errResponse := &ErrorResponse{
		Message: errMsg,
		Details: details,
	}
	ReplyJSONResponse(w, statusCode, errResponse)
}

func ReplyJSONResponse(w http.ResponseWriter, statusCode int, output any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.Error("encoding json response", slog.Any("error", err))
	}
}

func GetQueryParam(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

// GetQueryParamList accepts both repeated parameters and comma separated
// values, ignoring empty entries.
func GetQueryParamList(r *http.Request, name string) []string {
	var out []string
	for _, value := range r.URL.Query()[name] {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetSpanFromContext returns a no-op span when the request is not traced.
func GetSpanFromContext(r *http.Request) trace.Span {
	return trace.SpanFromContext(r.Context())
}

type PaginationParams struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func DefaultPaginationParams() PaginationParams {
	return PaginationParams{Page: _defaultPage, Limit: _defaultLimit}
}

func ExtractPaginationParams(r *http.Request) PaginationParams {
	params := DefaultPaginationParams()

	if page, err := strconv.Atoi(GetQueryParam(r, "page")); err == nil && page > 0 {
		params.Page = page
	}
	if limit, err := strconv.Atoi(GetQueryParam(r, "limit")); err == nil && limit > 0 && limit <= _maxLimit {
		params.Limit = limit
	}

	return params
}

// Paginate returns the page of items described by params.
func Paginate[T any](items []T, params PaginationParams) []T {
	start := (params.Page - 1) * params.Limit
	if start >= len(items) {
		return []T{}
	}
	end := min(start+params.Limit, len(items))
	return items[start:end]
}

func NewPaginatedResponse(data any, total int, params PaginationParams) PaginatedResponse {
	totalPages := 0
	if params.Limit > 0 {
		totalPages = (total + params.Limit - 1) / params.Limit
	}

	return PaginatedResponse{
		Data: data,
		Pagination: Pagination{
			Page:       params.Page,
			Limit:      params.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}
}
