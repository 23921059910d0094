package reputation

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strconv"
	"strings"
)

// Pattern id kinds use disjoint key prefixes so a UA shape, an IP prefix,
// and a fingerprint id can never collide in the store.
const (
	prefixUA = "ua:"
	prefixIP = "ip:"
	prefixFP = "fp:"
)

// UAPatternID normalizes a raw User-Agent string into a small tag set
// (browser family, OS family, automation keywords, length bucket) and
// hashes it down to a stable, timestamp-free fingerprint.
func UAPatternID(ua string) string {
	lower := strings.ToLower(strings.TrimSpace(ua))
	if lower == "" {
		return prefixUA + "empty"
	}

	tags := make([]string, 0, 4)
	tags = append(tags, browserFamily(lower))
	tags = append(tags, osFamily(lower))
	tags = append(tags, automationTag(lower))
	tags = append(tags, lengthBucket(len(ua)))

	sum := sha256.Sum256([]byte(strings.Join(tags, "|")))
	return prefixUA + hex.EncodeToString(sum[:8])
}

func browserFamily(lowerUA string) string {
	switch {
	case strings.Contains(lowerUA, "edg/"):
		return "edge"
	case strings.Contains(lowerUA, "chrome/"):
		return "chrome"
	case strings.Contains(lowerUA, "firefox/"):
		return "firefox"
	case strings.Contains(lowerUA, "safari/") && !strings.Contains(lowerUA, "chrome/"):
		return "safari"
	default:
		return "other"
	}
}

func osFamily(lowerUA string) string {
	switch {
	case strings.Contains(lowerUA, "windows"):
		return "windows"
	case strings.Contains(lowerUA, "mac os"):
		return "macos"
	case strings.Contains(lowerUA, "android"):
		return "android"
	case strings.Contains(lowerUA, "iphone"), strings.Contains(lowerUA, "ipad"):
		return "ios"
	case strings.Contains(lowerUA, "linux"):
		return "linux"
	default:
		return "other"
	}
}

var automationKeywords = []string{
	"bot", "crawler", "spider", "curl", "wget", "python-requests",
	"scrapy", "headless", "phantomjs", "puppeteer", "playwright", "go-http-client",
}

func automationTag(lowerUA string) string {
	for _, kw := range automationKeywords {
		if strings.Contains(lowerUA, kw) {
			return "automation:" + kw
		}
	}
	return "automation:none"
}

func lengthBucket(n int) string {
	switch {
	case n == 0:
		return "len:0"
	case n < 20:
		return "len:short"
	case n < 80:
		return "len:normal"
	case n < 200:
		return "len:long"
	default:
		return "len:very_long"
	}
}

// IPPatternID collapses an IPv4 address to its /24 and an IPv6 address to
// its /48.
func IPPatternID(ip net.IP) string {
	if ip == nil {
		return prefixIP + "unknown"
	}
	if v4 := ip.To4(); v4 != nil {
		return prefixIP + strconv.Itoa(int(v4[0])) + "." + strconv.Itoa(int(v4[1])) + "." + strconv.Itoa(int(v4[2])) + ".0/24"
	}
	v6 := ip.To16()
	if v6 == nil {
		return prefixIP + "unknown"
	}
	mask := net.CIDRMask(48, 128)
	network := v6.Mask(mask)
	return prefixIP + network.String() + "/48"
}

// FingerprintPatternID builds a pattern id for an arbitrary client
// fingerprint (TLS/HTTP2 hints, JA3 hash, etc).
func FingerprintPatternID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return prefixFP + hex.EncodeToString(sum[:8])
}
