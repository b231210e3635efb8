package broker

import (
	"time"

	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

// wallClock is the default ports.Clock backed by the runtime timer heap.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) ports.Timer {
	return time.AfterFunc(d, f)
}
