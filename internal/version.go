package internal

import "fmt"

var (
	// Set with -ldflags "-X github.com/tonkeeper/wsbridge/internal.Version=..." at build time.
	Version         = "devel"
	GitRevision     = "devel"
	VersionRevision = fmt.Sprintf("%s-%s", Version, GitRevision)
)
