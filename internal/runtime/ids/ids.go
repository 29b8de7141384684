package ids

import "github.com/oklog/ulid/v2"

// NewULID returns a time-sortable ULID encoded as a 26-character string.
// Used for subscription ids and event envelope UUIDs.
func NewULID() string {
	return ulid.Make().String()
}
