package detectors

import (
	"time"

	"context"

	"github.com/ocx/botdetect/internal/core"
)

// expectedBrowserHeaders are headers a real browser almost always sends;
// their absence is evidence (not proof) of a scripted client.
var expectedBrowserHeaders = []string{"Accept", "Accept-Language", "Accept-Encoding"}

// Header inspects the presence of common request headers: it counts how
// many of expectedBrowserHeaders are missing. Header values (such as Accept
// wildcards) and other headers (such as X-Requested-With) are not inspected.
type Header struct {
	Base
}

func NewHeader() *Header {
	return &Header{Base: NewBase("header", 15, 15*time.Millisecond)}
}

func (d *Header) Contribute(_ context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	h := state.Request.Headers

	missing := 0
	for _, key := range expectedBrowserHeaders {
		if !h.Has(key) {
			missing++
		}
	}

	signals := core.SignalMap{
		"headers.missing_browser_headers": core.IntSignal(int64(missing)),
	}

	if missing == 0 {
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "headers",
			ConfidenceDelta: -0.15,
			Weight:          0.3,
			Reason:          "all common browser headers present",
			Signals:         signals,
		}}, nil
	}

	if missing >= len(expectedBrowserHeaders) {
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "headers",
			ConfidenceDelta: 0.5,
			Weight:          0.8,
			Reason:          "none of the common browser headers present",
			Signals:         signals,
		}}, nil
	}

	return []core.Contribution{{
		Detector:        d.Name(),
		Category:        "headers",
		ConfidenceDelta: 0.15 * float64(missing),
		Weight:          0.4,
		Reason:          "some common browser headers missing",
		Signals:         signals,
	}}, nil
}
