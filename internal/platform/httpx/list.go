package httpx

import (
	"net/http"
	"strconv"

	"github.com/storefront/storefront/internal/shared"
)

// ListResponse wraps a page of items.
type ListResponse struct {
	Data       any               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// ParseListFilters reads page, limit, q, sort, dir, is_active, category_id and brand_id.
func ParseListFilters(r *http.Request) (shared.ListFilters, error) {
	q := r.URL.Query()
	filters := shared.ListFilters{
		Search:  q.Get("q"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
	verr := &shared.ValidationError{}
	parseInt := func(field string, dst *int) {
		if raw := q.Get(field); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 {
				verr.Add(field, "must be a positive integer")
				return
			}
			*dst = v
		}
	}
	parseInt("page", &filters.Page)
	parseInt("limit", &filters.Limit)
	if raw := q.Get("is_active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			verr.Add("is_active", "must be true or false")
		} else {
			filters.IsActive = &v
		}
	}
	for field, dst := range map[string]**int64{"category_id": &filters.CategoryID, "brand_id": &filters.BrandID} {
		if raw := q.Get(field); raw != "" {
			id, err := ParseID(field, raw)
			if err != nil {
				verr.Add(field, "must be a positive integer")
				continue
			}
			*dst = &id
		}
	}
	if err := verr.OrNil(); err != nil {
		return shared.ListFilters{}, err
	}
	return filters.Normalize(), nil
}
