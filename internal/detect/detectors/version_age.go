package detectors

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ocx/botdetect/internal/core"
)

// VersionAgeOptions configures the known-current-version table. Exposed as
// a struct, like BehavioralOptions, so it can be refreshed from a feed
// without changing the Detector interface.
type VersionAgeOptions struct {
	// CurrentMajor maps a browser family ("chrome", "firefox") to the
	// newest major version known to be in general release. A UA claiming a
	// long-obsolete major version is evidence of a stale or fabricated
	// User-Agent string (common in scraping libraries that hardcode one).
	CurrentMajor map[string]int
	// MaxAgeMajors is how many majors behind CurrentMajor is still
	// considered a plausible, merely-outdated browser.
	MaxAgeMajors int
}

func defaultVersionAgeOptions() VersionAgeOptions {
	return VersionAgeOptions{
		CurrentMajor: map[string]int{
			"chrome":  126,
			"firefox": 128,
			"edg":     126,
		},
		MaxAgeMajors: 12,
	}
}

var versionPattern = regexp.MustCompile(`(chrome|firefox|edg)/(\d+)`)

// VersionAge flags User-Agent strings whose claimed browser major version
// is implausibly far behind the newest known release, or implausibly far
// ahead of it (a fabricated future version).
type VersionAge struct {
	Base
	opts VersionAgeOptions
}

func NewVersionAge(opts VersionAgeOptions) *VersionAge {
	if opts.CurrentMajor == nil {
		opts = defaultVersionAgeOptions()
	}
	return &VersionAge{
		Base: NewBase("version_age", 18, 10*time.Millisecond),
		opts: opts,
	}
}

func (d *VersionAge) Contribute(_ context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	ua := strings.ToLower(state.Request.Headers.Get("User-Agent"))
	if ua == "" {
		return nil, nil
	}

	m := versionPattern.FindStringSubmatch(ua)
	if m == nil {
		return nil, nil
	}

	family := m[1]
	major, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, nil
	}

	current, known := d.opts.CurrentMajor[family]
	if !known {
		return nil, nil
	}

	age := current - major
	signals := core.SignalMap{
		"version_age.family": core.StringSignal(family),
		"version_age.major":  core.IntSignal(int64(major)),
	}

	switch {
	case age > d.opts.MaxAgeMajors:
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "version_age",
			ConfidenceDelta: 0.45,
			Weight:          0.5,
			Reason:          "claimed browser version far older than current release",
			Signals:         signals,
		}}, nil
	case major > current+2:
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "version_age",
			ConfidenceDelta: 0.5,
			Weight:          0.6,
			Reason:          "claimed browser version newer than any known release",
			Signals:         signals,
		}}, nil
	default:
		return []core.Contribution{{
			Detector: d.Name(),
			Category: "version_age",
			Signals:  signals,
		}}, nil
	}
}
