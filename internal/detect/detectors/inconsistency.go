package detectors

import (
	"context"
	"strings"
	"time"

	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/detect/trigger"
)

// Inconsistency runs after user_agent and header have contributed and
// looks for cross-signal contradictions no single earlier detector can see
// on its own: a Chrome UA (not Edge) sent with none of Sec-Fetch-Mode,
// Sec-Fetch-Site or Sec-Ch-Ua, or a Firefox UA sent with Sec-Ch-Ua. Other
// browsers, Accept-Language, and mobile/desktop header shapes are not
// checked.
//
// Its positive emissions are what the Learning Bus's InconsistencyDetected
// event is keyed on.
type Inconsistency struct {
	Base
}

func NewInconsistency() *Inconsistency {
	return &Inconsistency{
		Base: NewBase("inconsistency", 30, 20*time.Millisecond,
			trigger.DetectorCount{N: 2},
		),
	}
}

func (d *Inconsistency) Contribute(_ context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	uaSig, hasUA := state.Signals["ua"]
	if !hasUA || uaSig.Str == "" {
		return nil, nil
	}
	lower := strings.ToLower(uaSig.Str)
	h := state.Request.Headers

	claimsChrome := strings.Contains(lower, "chrome/") && !strings.Contains(lower, "edg/")
	claimsFirefox := strings.Contains(lower, "firefox/")
	hasSecFetch := h.Has("Sec-Fetch-Mode") || h.Has("Sec-Fetch-Site")
	hasSecChUA := h.Has("Sec-Ch-Ua")

	// Modern Chromium sends Sec-Fetch-* and Sec-Ch-Ua on every navigation;
	// their total absence on a claimed-Chrome UA is a strong tell.
	if claimsChrome && !hasSecFetch && !hasSecChUA {
		return []core.Contribution{{
			Detector:         d.Name(),
			Category:         "inconsistency",
			ConfidenceDelta:  0.6,
			Weight:           0.9,
			Reason:           "Chrome-claiming User-Agent missing Sec-Fetch-*/Sec-Ch-Ua headers",
			TriggerEarlyExit: false,
			Signals: core.SignalMap{
				"inconsistency.ua_vs_headers": core.BoolSignal(true),
			},
		}}, nil
	}

	if claimsFirefox && hasSecChUA {
		// Sec-Ch-Ua is a Chromium-only client-hints header; Firefox never
		// sends it.
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "inconsistency",
			ConfidenceDelta: 0.5,
			Weight:          0.8,
			Reason:          "Firefox-claiming User-Agent sent Chromium-only Sec-Ch-Ua header",
			Signals: core.SignalMap{
				"inconsistency.ua_vs_headers": core.BoolSignal(true),
			},
		}}, nil
	}

	return []core.Contribution{{
		Detector: d.Name(),
		Category: "inconsistency",
		Signals: core.SignalMap{
			"inconsistency.ua_vs_headers": core.BoolSignal(false),
		},
	}}, nil
}
