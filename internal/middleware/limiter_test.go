package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tonkeeper/wsbridge/internal/utils"
)

func TestConnectionsLimiter(t *testing.T) {
	extractor, err := utils.NewRealIPExtractor([]string{})
	if err != nil {
		t.Fatal(err)
	}
	limiter := NewConnectionLimiter(2, extractor)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	other := httptest.NewRequest("GET", "/", nil)
	other.RemoteAddr = "192.0.2.2:1234"

	r1, err := limiter.LeaseConnection(req)
	if err != nil {
		t.Fatalf("first lease: %v", err)
	}
	r2, err := limiter.LeaseConnection(req)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if _, err := limiter.LeaseConnection(req); err == nil {
		t.Fatal("third lease should be refused")
	}
	if _, err := limiter.LeaseConnection(other); err != nil {
		t.Fatalf("other client lease: %v", err)
	}

	r1()
	r1()
	if got := limiter.Leases("192.0.2.1"); got != 1 {
		t.Errorf("Leases() = %d after double release, want 1", got)
	}
	if _, err := limiter.LeaseConnection(req); err != nil {
		t.Fatalf("lease after release: %v", err)
	}
	r2()
}

func TestLease(t *testing.T) {
	released := 0
	lease := NewLease(func() { released++ })
	lease.ReleaseUnlessDetached()
	lease.Release()
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	released = 0
	lease = NewLease(func() { released++ })
	release := lease.Detach()
	lease.ReleaseUnlessDetached()
	if released != 0 {
		t.Fatal("detached lease released by the request")
	}
	release()
	release()
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}

	ctx := ContextWithLease(context.Background(), lease)
	if LeaseFromContext(ctx) != lease {
		t.Error("lease not found in context")
	}
	if LeaseFromContext(context.Background()) != nil {
		t.Error("unexpected lease in empty context")
	}
}

func TestConnectionsLimiter_BehindProxy(t *testing.T) {
	extractor, err := utils.NewRealIPExtractor([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	limiter := NewConnectionLimiter(1, extractor)

	viaProxy := func(client string) *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		req.Header.Set("X-Forwarded-For", client)
		return req
	}

	if _, err := limiter.LeaseConnection(viaProxy("203.0.113.1")); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if _, err := limiter.LeaseConnection(viaProxy("203.0.113.2")); err != nil {
		t.Fatalf("second client behind the same proxy: %v", err)
	}
	if _, err := limiter.LeaseConnection(viaProxy("203.0.113.1")); err == nil {
		t.Fatal("first client should be at its limit")
	}
	if got := limiter.Leases("10.0.0.1"); got != 0 {
		t.Errorf("proxy holds %d slots, want 0", got)
	}
}
