package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the content store and the
// dispatch ledger return these (optionally wrapped) so services can translate
// them into domain errors:
//   - ErrNotFound: record or blob does not exist
//   - ErrConflict: write lost a race or would overwrite existing data
//   - ErrAlreadyUsed: key already claimed (dispatch ledger, unique NHS number)
//   - ErrInvalidState: record is in the wrong state for the requested write
//   - ErrUnavailable: dependency temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
