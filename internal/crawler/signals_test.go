package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectBlockSignals(t *testing.T) {
	t.Parallel()

	require.Empty(t, DetectBlockSignals("<html><body>product reviews</body></html>", 200))

	signals := DetectBlockSignals("", 403)
	require.Equal(t, []string{"http_403"}, signals)

	signals = DetectBlockSignals("Please complete the CAPTCHA to continue", 429)
	require.Contains(t, signals, "http_429")
	require.Contains(t, signals, "captcha")

	signals = DetectBlockSignals("Access Denied - too many requests", 200)
	require.Contains(t, signals, "access denied")
	require.Contains(t, signals, "too many requests")
}
