package shared

// Filter carries the pagination and ordering options shared by the
// account, posting and invoice list queries. Repositories validate
// OrderBy against a per-query whitelist before interpolating it into
// an ORDER BY clause.
type Filter struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
}
