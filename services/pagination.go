package services

// Page bounds shared by every list operation
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 1_000_000
)

// PageRequest is the 1-based page a caller asked for
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize applies defaults and rejects out-of-range values
func (p PageRequest) Normalize() (PageRequest, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.Page < 1 || p.Page > MaxPage {
		return p, Validation("page", "page must be between 1 and 1000000")
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return p, Validation("page_size", "page_size must be between 1 and 100")
	}
	return p, nil
}

// Limit returns the row limit of the page
func (p PageRequest) Limit() int { return p.PageSize }

// Offset returns the row offset of the page
func (p PageRequest) Offset() int { return (p.Page - 1) * p.PageSize }
