package detectors

import (
	"context"
	"net"
	"time"

	"github.com/ocx/botdetect/internal/core"
)

// Datacenter flags requests originating from known cloud/hosting CIDR
// ranges — legitimate server-to-server traffic and automation both live
// here, so this detector contributes modestly and defers the decisive call
// to reputation and behavioral evidence.
type Datacenter struct {
	Base
	ranges []*net.IPNet
}

// NewDatacenter takes the set of known datacenter/hosting-provider CIDRs
// (AWS, GCP, Azure, and similar published ranges); ranges are loaded once
// at startup from config, not fetched per-request.
func NewDatacenter(ranges []*net.IPNet) *Datacenter {
	return &Datacenter{
		Base:   NewBase("datacenter", 12, 10*time.Millisecond),
		ranges: ranges,
	}
}

func (d *Datacenter) Contribute(_ context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	ip := state.Request.RemoteAddr
	if ip == nil {
		return nil, nil
	}

	for _, cidr := range d.ranges {
		if cidr.Contains(ip) {
			return []core.Contribution{{
				Detector:        d.Name(),
				Category:        "network",
				ConfidenceDelta: 0.35,
				Weight:          0.5,
				Reason:          "source IP falls within a known datacenter range: " + cidr.String(),
				Signals: core.SignalMap{
					"ip.is_datacenter": core.BoolSignal(true),
				},
			}}, nil
		}
	}

	return []core.Contribution{{
		Detector: d.Name(),
		Category: "network",
		Signals: core.SignalMap{
			"ip.is_datacenter": core.BoolSignal(false),
		},
	}}, nil
}
