package media

import "errors"

// Sentinel errors for the catalog and ingestion surface. Handlers map these
// onto HTTP statuses with errors.Is.
var (
	ErrNotFound     = errors.New("asset not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrStorage      = errors.New("storage failure")
	ErrAnalysis     = errors.New("analysis failure")
	ErrConflict     = errors.New("asset id conflict")
)
