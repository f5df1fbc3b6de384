// Package id mints account identifiers.
package id

import "github.com/oklog/ulid/v2"

// New returns a ULID for the current instant. IDs minted within the same
// millisecond are monotonic, so they sort in creation order.
func New() string {
	return ulid.Make().String()
}
