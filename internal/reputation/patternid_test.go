package reputation

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUAPatternID_SameShapeSameID(t *testing.T) {
	chrome1 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36"
	chrome2 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/119.0.0.0 Safari/537.36"

	id1 := UAPatternID(chrome1)
	id2 := UAPatternID(chrome2)
	assert.Equal(t, id1, id2, "same browser/os/automation/length-bucket shape should hash identically across minor version bumps")
	assert.Contains(t, id1, prefixUA)
}

func TestUAPatternID_DifferentShapeDifferentID(t *testing.T) {
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36"
	curl := "curl/8.1.2"

	assert.NotEqual(t, UAPatternID(chrome), UAPatternID(curl))
}

func TestUAPatternID_EmptyIsStable(t *testing.T) {
	assert.Equal(t, prefixUA+"empty", UAPatternID(""))
	assert.Equal(t, prefixUA+"empty", UAPatternID("   "))
}

func TestUAPatternID_DetectsAutomationKeywords(t *testing.T) {
	a := UAPatternID("python-requests/2.31.0")
	b := UAPatternID("Scrapy/2.11 (+https://scrapy.org)")
	assert.NotEqual(t, a, b, "different automation keywords should land in different tag buckets")
}

func TestIPPatternID_IPv4CollapsesToSlash24(t *testing.T) {
	a := IPPatternID(net.ParseIP("203.0.113.5"))
	b := IPPatternID(net.ParseIP("203.0.113.200"))
	assert.Equal(t, a, b, "addresses in the same /24 must collapse to the same pattern id")
	assert.Equal(t, prefixIP+"203.0.113.0/24", a)
}

func TestIPPatternID_DifferentSubnetDiffers(t *testing.T) {
	a := IPPatternID(net.ParseIP("203.0.113.5"))
	b := IPPatternID(net.ParseIP("203.0.114.5"))
	assert.NotEqual(t, a, b)
}

func TestIPPatternID_NilIsUnknown(t *testing.T) {
	assert.Equal(t, prefixIP+"unknown", IPPatternID(nil))
}

func TestIPPatternID_IPv6CollapsesToSlash48(t *testing.T) {
	a := IPPatternID(net.ParseIP("2001:db8:aaaa:1::1"))
	b := IPPatternID(net.ParseIP("2001:db8:aaaa:2::2"))
	assert.Equal(t, a, b, "addresses sharing a /48 must collapse to the same pattern id")
}

func TestFingerprintPatternID_Deterministic(t *testing.T) {
	raw := "ja3:771,4865-4866-4867,0-23-65281"
	assert.Equal(t, FingerprintPatternID(raw), FingerprintPatternID(raw))
	assert.NotEqual(t, FingerprintPatternID(raw), FingerprintPatternID(raw+"x"))
	assert.Contains(t, FingerprintPatternID(raw), prefixFP)
}
