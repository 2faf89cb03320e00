package headless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagecapture/internal/capture"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	r := New(Config{IdleMaxInflight: -1}, nil)
	require.Equal(t, 500*time.Millisecond, r.cfg.IdleWindow)
	require.Equal(t, 2, r.cfg.IdleMaxInflight)
	require.NotNil(t, r.logger)
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	vp := capture.Viewport{Name: "mobile", Width: 375, Height: 812}
	base := New(Config{}, nil).allocatorOptions(vp)
	full := New(Config{ExecPath: "/usr/bin/chromium", NoSandbox: true, UserAgent: "pagecapture"}, nil).allocatorOptions(vp)
	require.Len(t, full, len(base)+3)
}

func TestRemoveScriptEscapesSelectors(t *testing.T) {
	t.Parallel()

	script, err := removeScript([]string{"#onetrust-consent-sdk", `div[data-x="a'b"]`})
	require.NoError(t, err)
	require.Contains(t, script, `["#onetrust-consent-sdk","div[data-x=\"a'b\"]"]`)
	require.Contains(t, script, "querySelectorAll(sel)")
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()
	require.Eventually(t, func() bool { return child.Err() != nil }, time.Second, 5*time.Millisecond)
}
