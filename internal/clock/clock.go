// Package clock abstracts time for lease arithmetic and tests.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
