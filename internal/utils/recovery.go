package utils

import (
	log "github.com/sirupsen/logrus"
)

// RunWithRecovery runs fn in its own goroutine. A panic in fn is logged under name
// and does not take the process down.
func RunWithRecovery(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover logs a recovered panic. It must be called directly by a deferred statement.
func Recover(name string) {
	if r := recover(); r != nil {
		log.WithField("prefix", name).Errorf("RECOVERED FROM PANIC: %v", r)
	}
}
