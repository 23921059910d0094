package detectors

import (
	"context"
	"strings"
	"time"

	"github.com/ocx/botdetect/internal/core"
)

// automationUAKeywords flags headless/SDK/automation client identifiers
// outright, as distinct from the softer browser-family tagging the
// reputation pattern id uses.
var automationUAKeywords = []string{
	"bot", "crawler", "spider", "scrapy", "headless",
	"phantomjs", "puppeteer", "playwright", "selenium",
	"curl", "wget", "python-requests", "go-http-client", "java/",
	"libwww-perl", "httpclient", "axios/", "node-fetch",
}

var knownBrowserTokens = []string{"chrome/", "firefox/", "safari/", "edg/", "opr/"}

// knownGoodBots maps a UA substring to the canonical name of a verified
// search-engine/social crawler. These are checked before automationUAKeywords
// so a UA like "Googlebot" (which also contains "bot") is trusted rather
// than flagged as generic automation.
var knownGoodBots = []struct {
	token string
	name  string
}{
	{"googlebot", "Googlebot"},
	{"bingbot", "Bingbot"},
	{"duckduckbot", "DuckDuckBot"},
	{"baiduspider", "Baiduspider"},
	{"yandexbot", "YandexBot"},
	{"applebot", "Applebot"},
	{"facebookexternalhit", "FacebookBot"},
	{"twitterbot", "Twitterbot"},
	{"slackbot", "Slackbot"},
	{"linkedinbot", "LinkedInBot"},
}

// UserAgent inspects the raw User-Agent header for automation markers,
// missing/empty values, and implausible strings.
type UserAgent struct {
	Base
}

func NewUserAgent() *UserAgent {
	return &UserAgent{Base: NewBase("user_agent", 10, 20*time.Millisecond)}
}

func (d *UserAgent) Contribute(_ context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	ua := state.Request.Headers.Get("User-Agent")
	lower := strings.ToLower(ua)

	signals := core.SignalMap{"ua": core.StringSignal(ua)}

	if ua == "" {
		signals["ua.is_bot"] = core.BoolSignal(true)
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "user_agent",
			ConfidenceDelta: 0.6,
			Weight:          1.0,
			Reason:          "missing User-Agent header",
			Signals:         signals,
		}}, nil
	}

	for _, known := range knownGoodBots {
		if strings.Contains(lower, known.token) {
			signals["ua.is_bot"] = core.BoolSignal(false)
			return []core.Contribution{{
				Detector:        d.Name(),
				Category:        "user_agent",
				ConfidenceDelta: -1.0,
				Weight:          1.2,
				Reason:          "known-good crawler signature: " + known.name,
				BotType:         "search_engine",
				BotName:         known.name,
				VerifiedGood:    true,
				Signals:         signals,
			}}, nil
		}
	}

	for _, kw := range automationUAKeywords {
		if strings.Contains(lower, kw) {
			signals["ua.is_bot"] = core.BoolSignal(true)
			signals["ua.automation_keyword"] = core.StringSignal(kw)
			return []core.Contribution{{
				Detector:        d.Name(),
				Category:        "user_agent",
				ConfidenceDelta: 0.85,
				Weight:          1.2,
				Reason:          "automation keyword in User-Agent: " + kw,
				BotType:         "automation_tool",
				Signals:         signals,
			}}, nil
		}
	}

	hasBrowserToken := false
	for _, tok := range knownBrowserTokens {
		if strings.Contains(lower, tok) {
			hasBrowserToken = true
			break
		}
	}
	if !hasBrowserToken {
		signals["ua.is_bot"] = core.BoolSignal(true)
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "user_agent",
			ConfidenceDelta: 0.3,
			Weight:          0.6,
			Reason:          "User-Agent does not match any known browser token",
			Signals:         signals,
		}}, nil
	}

	signals["ua.is_bot"] = core.BoolSignal(false)
	return []core.Contribution{{
		Detector:        d.Name(),
		Category:        "user_agent",
		ConfidenceDelta: -0.2,
		Weight:          0.4,
		Reason:          "User-Agent matches a known browser",
		Signals:         signals,
	}}, nil
}
