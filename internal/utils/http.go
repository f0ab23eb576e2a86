package utils

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/realclientip/realclientip-go"
)

// ExtractOrigin reduces a url to scheme://host. Values that are not absolute urls are returned as is.
func ExtractOrigin(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

// OriginAllowed reports whether the Origin header value matches one of the allowed origins.
// An empty allow list or a "*" entry allows every origin, including a missing one.
func OriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin = ExtractOrigin(origin)
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(ExtractOrigin(a), origin) {
			return true
		}
	}
	return false
}

// RealIPExtractor finds the client ip of a request. X-Forwarded-For is only honoured when the
// direct peer is inside one of the trusted ranges.
type RealIPExtractor struct {
	trusted  []net.IPNet
	strategy realclientip.RightmostTrustedRangeStrategy
}

func NewRealIPExtractor(trustedRanges []string) (*RealIPExtractor, error) {
	trusted, err := realclientip.AddressesAndRangesToIPNets(trustedRanges...)
	if err != nil {
		return nil, err
	}
	strategy, err := realclientip.NewRightmostTrustedRangeStrategy("X-Forwarded-For", trusted)
	if err != nil {
		return nil, err
	}
	return &RealIPExtractor{trusted: trusted, strategy: strategy}, nil
}

var remoteAddrStrategy = realclientip.RemoteAddrStrategy{}

func (e *RealIPExtractor) Extract(request *http.Request) string {
	peer := remoteAddrStrategy.ClientIP(nil, request.RemoteAddr)
	if peer == "" || !e.isTrusted(peer) {
		return peer
	}
	if ip := e.strategy.ClientIP(request.Header, request.RemoteAddr); ip != "" {
		return ip
	}
	return peer
}

func (e *RealIPExtractor) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range e.trusted {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
