package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/tonkeeper/wsbridge/internal/utils"
)

// ConnectionsLimiter caps the number of sockets a single client ip may hold open.
type ConnectionsLimiter struct {
	mu     sync.Mutex
	leases map[string]int
	max    int
	realIP *utils.RealIPExtractor
}

func NewConnectionLimiter(max int, extractor *utils.RealIPExtractor) *ConnectionsLimiter {
	return &ConnectionsLimiter{
		leases: map[string]int{},
		max:    max,
		realIP: extractor,
	}
}

// LeaseConnection takes a slot for the client of request. The returned release must be
// called once the socket is gone. With every slot taken LeaseConnection returns an error.
func (l *ConnectionsLimiter) LeaseConnection(request *http.Request) (release func(), err error) {
	ip := l.realIP.Extract(request)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.leases[ip] >= l.max {
		return nil, fmt.Errorf("you have reached the limit of simultaneous sockets: %v max", l.max)
	}
	l.leases[ip]++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.leases[ip]--
			if l.leases[ip] <= 0 {
				delete(l.leases, ip)
			}
		})
	}, nil
}

// Leases returns the number of slots held by ip.
func (l *ConnectionsLimiter) Leases(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leases[ip]
}
