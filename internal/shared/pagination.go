package shared

import (
	"net/url"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Page is the window applied to a listing, echoed back in list responses so
// clients can walk a collection with limit and offset.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// ParsePage reads limit and offset query values, clamping them to sane
// bounds.
func ParsePage(q url.Values) Page {
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}

// WithCount returns a copy of the page carrying the number of items the
// query actually produced.
func (p Page) WithCount(n int) Page {
	p.Count = n
	return p
}
