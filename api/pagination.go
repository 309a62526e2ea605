package api

import (
	"net/url"
	"strconv"
)

// paginationParams holds the resolved page window
type paginationParams struct {
	Page     int
	PageSize int
}

// parsePagination reads page/page_size with the configured defaults and cap.
// Out-of-range values fall back instead of erroring; the feed itself is the
// contract, pagination is a convenience.
func (a *API) parsePagination(q url.Values) paginationParams {
	p := paginationParams{
		Page:     1,
		PageSize: a.config.API.Pagination.DefaultPageSize,
	}
	if raw := q.Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Page = n
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.PageSize = n
		}
	}
	if p.PageSize > a.config.API.Pagination.MaxPageSize {
		p.PageSize = a.config.API.Pagination.MaxPageSize
	}
	return p
}

// window returns the [start, end) slice bounds for a collection of n items
func (p paginationParams) window(n int) (int, int) {
	start := (p.Page - 1) * p.PageSize
	if start > n {
		start = n
	}
	end := start + p.PageSize
	if end > n {
		end = n
	}
	return start, end
}

// totalPages returns the page count for n items
func (p paginationParams) totalPages(n int) int {
	if n == 0 {
		return 1
	}
	return (n + p.PageSize - 1) / p.PageSize
}
