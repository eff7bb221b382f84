package redom

import "github.com/google/uuid"

// NewEntityID synthesizes an entity identifier. Version-7 UUIDs are
// time-ordered, which keeps generated ids monotonic-friendly for sorted
// scans while staying collision-resistant across processes.
func NewEntityID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than surfacing an error from every builder.
		return uuid.NewString()
	}
	return id.String()
}
