package watch

import "zonewatch/internal/reactor"

const (
	ModeNotify = "notify"
	ModePoll   = "poll"
)

// ChangeSource turns filesystem activity in the zones directory into
// processFile calls on the reactor. Exactly one is active at a time.
type ChangeSource interface {
	Mode() string
	// Start registers the source on loop. It must be called from the loop
	// goroutine or before the loop runs.
	Start(loop *reactor.Loop) error
	Stop() error
}
