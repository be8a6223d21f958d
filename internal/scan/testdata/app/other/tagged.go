//go:build extra

package other

import "time"

type Timer interface{ Since(t time.Time) time.Duration }

//inject:provider
func NewTimer() Timer { return nil }
