package bridge

import (
	log "github.com/sirupsen/logrus"
)

// verboseLog prints human readable routing lines. When the same payload is sent to several
// identities in a row only the first line carries the payload.
// It is owned by the dispatcher goroutine.
type verboseLog struct {
	enabled     bool
	hasLast     bool
	lastPayload string
	lastID      string
}

func newVerboseLog(enabled bool) *verboseLog {
	return &verboseLog{enabled: enabled}
}

func (v *verboseLog) send(id, payload string) {
	if !v.enabled {
		return
	}
	entry := log.WithField("prefix", "verbose").WithField("to", id)
	if v.hasLast && v.lastPayload == payload && v.lastID != id {
		entry.Info("send (repeated)")
		return
	}
	v.hasLast = true
	v.lastPayload = payload
	v.lastID = id
	entry.WithField("payload", payload).Info("send")
}

func (v *verboseLog) close(id string) {
	if !v.enabled {
		return
	}
	v.hasLast = false
	v.lastPayload = ""
	log.WithField("prefix", "verbose").WithField("id", id).Info("close")
}
