// Package worker performs a single screenshot capture against a rendering
// session and writes the image to its destination.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/capture"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	defaultStabilizeDelay    = 3 * time.Second
	defaultShotTimeout       = 60 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	// NavigationTimeout bounds page load including the network-idle wait.
	NavigationTimeout time.Duration `mapstructure:"nav_timeout"`
	// StabilizeDelay is the pause after load that lets late rendering settle.
	StabilizeDelay time.Duration `mapstructure:"stabilize_delay"`
	// ShotTimeout bounds element cleanup plus the screenshot itself.
	ShotTimeout time.Duration `mapstructure:"shot_timeout"`
	// RemoveSelectors are CSS selectors deleted from the page before capture.
	RemoveSelectors []string `mapstructure:"remove_selectors"`
}

// Limiter throttles captures per host. A nil Limiter disables throttling.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Worker turns a capture.Task into a capture.Outcome.
type Worker struct {
	renderer capture.Renderer
	clock    capture.Clock
	limiter  Limiter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	renderer capture.Renderer,
	clock capture.Clock,
	limiter Limiter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.StabilizeDelay < 0 {
		cfg.StabilizeDelay = 0
	}
	if cfg.ShotTimeout <= 0 {
		cfg.ShotTimeout = defaultShotTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		renderer: renderer,
		clock:    clock,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Capture runs one task. It never returns an error: every failure, including
// a panic inside the renderer, is reported in the outcome.
func (w *Worker) Capture(ctx context.Context, task capture.Task) (outcome capture.Outcome) {
	start := w.clock.Now()
	outcome = capture.Outcome{Task: task, Status: capture.StatusSuccess}
	defer func() {
		if r := recover(); r != nil {
			outcome.Status = capture.StatusFailure
			outcome.Error = fmt.Sprintf("panic: %v", r)
			w.logger.Error("capture panicked", zap.String("url", task.URL), zap.Any("panic", r))
		}
		outcome.Duration = w.clock.Now().Sub(start)
	}()

	if err := w.capture(ctx, task); err != nil {
		outcome.Status = capture.StatusFailure
		outcome.Error = err.Error()
		w.logger.Warn("capture failed",
			zap.String("url", task.URL),
			zap.String("device", task.Viewport.Name),
			zap.Error(err),
		)
	}
	return outcome
}

func (w *Worker) capture(ctx context.Context, task capture.Task) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, task.URL); err != nil {
			return err
		}
	}

	session, err := w.renderer.Open(ctx, task.Viewport)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			w.logger.Debug("session close failed", zap.String("url", task.URL), zap.Error(cerr))
		}
	}()

	if err := w.navigate(ctx, session, task.URL); err != nil {
		return err
	}

	if err := w.stabilize(ctx); err != nil {
		return err
	}

	shotCtx, cancel := context.WithTimeout(ctx, w.cfg.ShotTimeout)
	defer cancel()
	if len(w.cfg.RemoveSelectors) > 0 {
		if err := session.RemoveElements(shotCtx, w.cfg.RemoveSelectors); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}
	png, err := session.Screenshot(shotCtx)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return writeImage(task.Destination, png)
}

func (w *Worker) navigate(ctx context.Context, session capture.Session, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, w.cfg.NavigationTimeout)
	defer cancel()
	err := session.Navigate(navCtx, url)
	if err == nil {
		return nil
	}
	timedOut := errors.Is(err, capture.ErrNavigationTimeout) ||
		(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil)
	if timedOut {
		return fmt.Errorf("%w after %s", capture.ErrNavigationTimeout, seconds(w.cfg.NavigationTimeout))
	}
	return fmt.Errorf("navigate: %w", err)
}

func (w *Worker) stabilize(ctx context.Context) error {
	if w.cfg.StabilizeDelay == 0 {
		return nil
	}
	select {
	case <-w.clock.After(w.cfg.StabilizeDelay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stabilize: %w", ctx.Err())
	}
}

func writeImage(dest string, png []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(dest, png, 0o600); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// seconds renders d as whole or fractional seconds, e.g. "60s" or "1.5s".
func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
