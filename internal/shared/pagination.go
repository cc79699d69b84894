package shared

import "math"

// DefaultPerPage is the listing page size when the caller does not ask
// for one.
const DefaultPerPage = 20

// Pagination describes one page of a listing, for expense and ledger
// endpoints.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination normalizes the requested page and size and derives the
// page count from the total row count.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}
