package app

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tonkeeper/wsbridge/internal"
)

// HealthChecker is implemented by the event/command transport.
type HealthChecker interface {
	HealthCheck() error
}

// HealthManager keeps the last known health of the transport.
type HealthManager struct {
	healthy  atomic.Bool
	interval time.Duration
}

func NewHealthManager(interval time.Duration) *HealthManager {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthManager{interval: interval}
}

func (h *HealthManager) UpdateHealthStatus(checker HealthChecker) {
	var status float64 = 1
	err := checker.HealthCheck()
	if err != nil {
		status = 0
		log.WithField("prefix", "HealthManager").Warnf("transport unhealthy: %v", err)
	}
	h.healthy.Store(err == nil)
	HealthMetric.Set(status)
	ReadyMetric.Set(status)
}

// StartHealthMonitoring polls checker until ctx is done.
func (h *HealthManager) StartHealthMonitoring(ctx context.Context, checker HealthChecker) {
	h.UpdateHealthStatus(checker)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.UpdateHealthStatus(checker)
		}
	}
}

func (h *HealthManager) Healthy() bool {
	return h.healthy.Load()
}

func (h *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Build-Commit", internal.VersionRevision)

	status, body := http.StatusOK, `{"status":"ok"}`
	if !h.Healthy() {
		status, body = http.StatusServiceUnavailable, `{"status":"unhealthy"}`
	}
	w.WriteHeader(status)
	if _, err := fmt.Fprintln(w, body); err != nil {
		log.Errorf("health response write error: %v", err)
	}
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Build-Commit", internal.VersionRevision)

	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"version":"%s"}`+"\n", internal.VersionRevision); err != nil {
		log.Errorf("version response write error: %v", err)
	}
}
