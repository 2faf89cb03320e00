// Package headless renders pages in headless Chrome via chromedp. Every
// session launches its own browser process so no cookies, storage or cache
// leak between captures.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/capture"
)

const (
	defaultIdleWindow  = 500 * time.Millisecond
	defaultIdleMax     = 2
	idlePollInterval   = 100 * time.Millisecond
	fullPageQualityPNG = 100
)

// Config controls browser launch and page-load behavior.
type Config struct {
	// ExecPath overrides the Chrome binary; empty uses chromedp discovery.
	ExecPath  string `mapstructure:"exec_path"`
	UserAgent string `mapstructure:"user_agent"`
	Headless  bool   `mapstructure:"headless"`
	NoSandbox bool   `mapstructure:"no_sandbox"`
	// IdleWindow is how long the network must stay quiet after load.
	IdleWindow time.Duration `mapstructure:"idle_window"`
	// IdleMaxInflight is the number of open requests still considered quiet.
	IdleMaxInflight int `mapstructure:"idle_max_inflight"`
}

// Renderer implements capture.Renderer.
type Renderer struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Renderer.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = defaultIdleWindow
	}
	if cfg.IdleMaxInflight < 0 {
		cfg.IdleMaxInflight = defaultIdleMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, logger: logger}
}

func (r *Renderer) allocatorOptions(vp capture.Viewport) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	headless := any(false)
	if r.cfg.Headless {
		headless = "new"
	}
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(vp.Width, vp.Height),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	return opts
}

// Open launches a browser sized to vp and returns its single page.
func (r *Renderer) Open(ctx context.Context, vp capture.Viewport) (capture.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), r.allocatorOptions(vp)...)
	tab, tabCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		tab:         tab,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		idle:        newIdleTracker(r.cfg.IdleMaxInflight, time.Now),
		cfg:         r.cfg,
		logger:      r.logger,
	}
	chromedp.ListenTarget(tab, s.idle.observe)

	// The first Run allocates the browser and must not carry a deadline, or
	// the process dies with it.
	stop := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tab,
		network.Enable(),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
	)
	stop()
	if err != nil {
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("start browser: %w", ctx.Err())
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

// Session is one browser process with one tab.
type Session struct {
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	idle        *idleTracker
	cfg         Config
	logger      *zap.Logger
	closeOnce   sync.Once
	closeErr    error
}

// Navigate loads url, then waits for network idle and a body element.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.idle.reset()
	opCtx, done := s.bind(ctx)
	defer done()
	err := chromedp.Run(opCtx,
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return s.idle.wait(ctx, s.cfg.IdleWindow)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return capture.ErrNavigationTimeout
	}
	return fmt.Errorf("load %s: %w", url, err)
}

// RemoveElements deletes every element matching any selector. Invalid or
// unmatched selectors are skipped.
func (s *Session) RemoveElements(ctx context.Context, selectors []string) error {
	if len(selectors) == 0 {
		return nil
	}
	script, err := removeScript(selectors)
	if err != nil {
		return err
	}
	opCtx, done := s.bind(ctx)
	defer done()
	var removed int
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &removed)); err != nil {
		return fmt.Errorf("remove elements: %w", err)
	}
	s.logger.Debug("removed elements", zap.Int("count", removed))
	return nil
}

// Screenshot captures the full scrollable page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, done := s.bind(ctx)
	defer done()
	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.FullScreenshot(&buf, fullPageQualityPNG)); err != nil {
		return nil, fmt.Errorf("full screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.tab); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.tabCancel()
		s.allocCancel()
	})
	return s.closeErr
}

// bind derives an operation context from the tab that inherits ctx's
// deadline and cancellation.
func (s *Session) bind(ctx context.Context) (context.Context, func()) {
	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		opCtx, cancel = context.WithDeadline(s.tab, dl)
	} else {
		opCtx, cancel = context.WithCancel(s.tab)
	}
	stop := forwardCancel(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func removeScript(selectors []string) (string, error) {
	encoded, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	return fmt.Sprintf(`(function(sels){
	var n = 0;
	sels.forEach(function(sel){
		try { document.querySelectorAll(sel).forEach(function(el){ el.remove(); n++; }); } catch (e) {}
	});
	return n;
})(%s)`, encoded), nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
