package extract

import (
	"context"
	"errors"
	"net"
	"strings"
)

type FailureClass int

const (
	// Terminal failures mean the media cannot be fetched by any backend: it is private or gone, the URL is bad, or
	// the network is down.
	Terminal FailureClass = iota
	// Recoverable failures are breakage in the primary backend's handling of the platform, which the fallback
	// backend may not share.
	Recoverable
)

func (c FailureClass) String() string {
	switch c {
	case Terminal:
		return "terminal"
	case Recoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// Checked before recoverablePatterns, so "private video: 403" stays terminal.
var terminalPatterns = []string{
	"private",
	"user restricted access",
	"unavailable",
	"not available",
	"has been removed",
	"login required",
	"sign in",
	"members-only",
	"invalid characters in video id",
	"video id must be",
	"no such host",
	"network is unreachable",
	"connection refused",
}

var recoverablePatterns = []string{
	"410",
	"403",
	"expired",
	"signature",
	"cipher",
	"extractor",
	"player",
	"unexpected status",
	"embedding of this video has been disabled",
	"failed to parse",
	"unmarshal",
	"invalid character",
	"no format",
	"unexpected eof",
}

// Classify decides whether a primary backend failure is worth retrying on the fallback backend. Anything not
// recognised is terminal.
func Classify(err error) FailureClass {
	if err == nil {
		return Terminal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Terminal
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Terminal
	}
	text := strings.ToLower(err.Error())
	for _, pattern := range terminalPatterns {
		if strings.Contains(text, pattern) {
			return Terminal
		}
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(text, pattern) {
			return Recoverable
		}
	}
	return Terminal
}
