package service

import "github.com/google/uuid"

// NewID returns a time-ordered unique identifier. V7 keeps queue and conflict
// rows roughly insertion-ordered when sorted by id; the random fallback only
// matters if the system clock is unusable.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
