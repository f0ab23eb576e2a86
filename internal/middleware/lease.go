package middleware

import (
	"context"
	"sync"
)

type leaseKey struct{}

// Lease is a connection slot taken for a request. The middleware gives it back when the
// request ends unless a handler detached it to hold the slot for longer.
type Lease struct {
	mu       sync.Mutex
	detached bool
	once     sync.Once
	release  func()
}

func NewLease(release func()) *Lease {
	return &Lease{release: release}
}

// Detach hands the slot over to the caller, who must call the returned func exactly when it is done.
func (l *Lease) Detach() func() {
	l.mu.Lock()
	l.detached = true
	l.mu.Unlock()
	return l.Release
}

// ReleaseUnlessDetached gives the slot back if no handler took it over.
func (l *Lease) ReleaseUnlessDetached() {
	l.mu.Lock()
	detached := l.detached
	l.mu.Unlock()
	if !detached {
		l.Release()
	}
}

func (l *Lease) Release() {
	l.once.Do(l.release)
}

func ContextWithLease(ctx context.Context, lease *Lease) context.Context {
	return context.WithValue(ctx, leaseKey{}, lease)
}

// LeaseFromContext returns the lease of the request, or nil when no limiter ran.
func LeaseFromContext(ctx context.Context) *Lease {
	lease, _ := ctx.Value(leaseKey{}).(*Lease)
	return lease
}
