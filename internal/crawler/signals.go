package crawler

import (
	"fmt"
	"strings"
)

// Body substrings that indicate a bot wall rather than real content.
var blockPatterns = []string{
	"captcha",
	"verify you are human",
	"access denied",
	"forbidden",
	"too many requests",
}

// DetectBlockSignals inspects a response for signs the site is blocking us.
// HTTP 403/429 and known bot-wall phrases each contribute a signal.
func DetectBlockSignals(body string, status int) []string {
	var signals []string
	if status == 403 || status == 429 {
		signals = append(signals, fmt.Sprintf("http_%d", status))
	}
	lower := strings.ToLower(body)
	for _, pattern := range blockPatterns {
		if strings.Contains(lower, pattern) {
			signals = append(signals, pattern)
		}
	}
	return signals
}
