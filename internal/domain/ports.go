package domain

import "context"

// TotalSource reads the raw donation total text from the fundraising page.
// An error or empty text means the total is currently unavailable.
type TotalSource interface {
	CurrentText(ctx context.Context) (string, error)
}

// StateStore persists the last distributed total across restarts.
type StateStore interface {
	Load(ctx context.Context) (total int64, found bool, err error)
	Save(ctx context.Context, total int64) error
}
