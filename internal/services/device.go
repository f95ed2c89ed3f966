package services

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DeviceInfo is the coarse classification of a client derived from its
// User-Agent header.
type DeviceInfo struct {
	Fingerprint string
	Type        string // "desktop", "mobile", "tablet", "unknown"
	OS          string
	Browser     string
}

// FingerprintDevice hashes the User-Agent into a stable identifier. The
// fingerprint intentionally excludes the IP address so a known device keeps
// matching the pattern when the network changes.
func FingerprintDevice(userAgent string) string {
	hash := sha256.Sum256([]byte(userAgent))
	return fmt.Sprintf("%x", hash)[:32]
}

// ClassifyDevice extracts coarse device, OS, and browser labels from the
// User-Agent. Classification is heuristic and only feeds audit records and
// alert text, never the risk score itself.
func ClassifyDevice(userAgent string) DeviceInfo {
	info := DeviceInfo{
		Fingerprint: FingerprintDevice(userAgent),
		Type:        "unknown",
		OS:          "unknown",
		Browser:     "unknown",
	}

	ua := strings.ToLower(userAgent)
	if ua == "" {
		return info
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		info.Type = "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		info.Type = "mobile"
	default:
		info.Type = "desktop"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "windows"
	case strings.Contains(ua, "android"):
		info.OS = "android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		info.OS = "ios"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		info.OS = "macos"
	case strings.Contains(ua, "linux"):
		info.OS = "linux"
	}

	// Order matters: Chrome UAs contain "safari", Edge UAs contain "chrome".
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		info.Browser = "edge"
	case strings.Contains(ua, "firefox"):
		info.Browser = "firefox"
	case strings.Contains(ua, "chrome"):
		info.Browser = "chrome"
	case strings.Contains(ua, "safari"):
		info.Browser = "safari"
	}

	return info
}
