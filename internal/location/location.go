// Package location decomposes the URL a socket connection was opened with.
package location

import (
	"fmt"
	"net/url"
	"strings"
)

// Location is the structured form of a connection's originating URL.
// Optional parts that are missing are empty strings so the record shape stays stable.
type Location struct {
	Protocol string `json:"protocol"`
	Hash     string `json:"hash"`
	Search   string `json:"search"`
	Pathname string `json:"pathname"`
	Port     string `json:"port"`
	Hostname string `json:"hostname"`
	Host     string `json:"host"`
	Origin   string `json:"origin"`
	Href     string `json:"href"`
	// Username and Password are reserved and never populated.
	Username string `json:"username"`
	Password string `json:"password"`
}

// Parse builds a Location from an absolute URL.
func Parse(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Location{}, fmt.Errorf("parse location %q: not an absolute url", raw)
	}

	// hosts compare case-insensitively, the record carries the canonical lowercase form
	host := strings.ToLower(u.Host)
	protocol := strings.ToLower(u.Scheme) + ":"
	pathname := u.EscapedPath()
	if pathname == "" {
		pathname = "/"
	}
	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.EscapedFragment()
	}

	return Location{
		Protocol: protocol,
		Hash:     hash,
		Search:   search,
		Pathname: pathname,
		Port:     u.Port(),
		Hostname: strings.ToLower(u.Hostname()),
		Host:     host,
		Origin:   protocol + "//" + host,
		Href:     protocol + "//" + host + pathname + search + hash,
	}, nil
}

// FromRequest reconstructs the connection url from the Host header and the request URI
// of the upgrade request and parses it.
func FromRequest(host, requestURI string) (Location, error) {
	if host == "" {
		return Location{}, fmt.Errorf("parse location: empty host")
	}
	return Parse("ws://" + host + requestURI)
}
