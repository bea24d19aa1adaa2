package domain

import "time"

// APIKey identifies a calling client. Name doubles as the acting user
// recorded on audit entries.
type APIKey struct {
	TokenHash string
	Name      string
	Active    bool
	CreatedAt time.Time
}
