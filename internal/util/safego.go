package util

import (
	"runtime/debug"

	"github.com/scanchain/scanchain/internal/logging"
)

// SafeGoWithName runs fn on a new goroutine, recovering and logging any panic
// together with the goroutine name and stack. Use this in place of bare `go`
// statements for background work that must never crash the server.
//
//	util.SafeGoWithName("registry-notify", func() {
//	    // goroutine code here
//	})
func SafeGoWithName(name string, fn func()) {
	go runRecovered(name, fn)
}

func runRecovered(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("goroutine panic recovered",
				"goroutine", name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
