// File: internal/driver/chromedp.go
// Description: Browser driver backed by chromedp. Two construction paths:
// NewRemote attaches to a provisioned profile's DevTools endpoint, NewLocal
// launches a throwaway Chrome with the egress proxy wired in. Both satisfy
// schemas.Driver; the workflow engine never knows which one it holds.

package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// Driver wraps a chromedp browser context as the automation collaborator.
type Driver struct {
	ctx    context.Context
	logger *zap.Logger

	navigationTimeout time.Duration
	captureDir        string

	// cancels run outermost-last; Close walks them in reverse.
	cancels   []context.CancelFunc
	closeOnce sync.Once
}

var _ schemas.Driver = (*Driver)(nil)

// NewRemote attaches to the DevTools endpoint of an externally provisioned
// browser profile. The profile's lifetime belongs to the provisioner; Close
// only detaches.
func NewRemote(ctx context.Context, endpoint string, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, endpoint)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		ctx:               browserCtx,
		logger:            logger.Named("driver"),
		navigationTimeout: cfg.NavigationTimeout,
		captureDir:        cfg.CaptureDir,
		cancels:           []context.CancelFunc{allocCancel, browserCancel},
	}

	// Prove the connection before handing the driver out. A dead endpoint
	// surfaces here instead of mid-workflow.
	probeCtx, cancel := context.WithTimeout(browserCtx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(probeCtx); err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("failed to attach to browser endpoint %s: %w", endpoint, err)
	}

	d.logger.Debug("Attached to remote browser.", zap.String("endpoint", endpoint))
	return d, nil
}

// NewLocal launches a local Chrome instance routed through the given egress.
func NewLocal(ctx context.Context, cfg config.BrowserConfig, egress schemas.EgressDescriptor, logger *zap.Logger) (*Driver, error) {
	opts := execOptions(cfg, egress)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		ctx:               browserCtx,
		logger:            logger.Named("driver"),
		navigationTimeout: cfg.NavigationTimeout,
		captureDir:        cfg.CaptureDir,
		cancels:           []context.CancelFunc{allocCancel, browserCancel},
	}

	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("failed to launch local browser: %w", err)
	}

	d.logger.Debug("Local browser launched.", zap.Bool("headless", cfg.Headless))
	return d, nil
}

// execOptions translates the browser config and egress into allocator options.
func execOptions(cfg config.BrowserConfig, egress schemas.EgressDescriptor) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Required on hardened systems and inside containers.
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
	)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if egress.Host != "" {
		opts = append(opts, chromedp.ProxyServer(fmt.Sprintf("http://%s:%d", egress.Host, egress.Port)))
	}

	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(arg, "=")
		if !strings.HasPrefix(key, "--") {
			key = "--" + key
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(key, "--"), value))
		} else {
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(key, "--"), true))
		}
	}
	return opts
}

// run executes actions under the driver's browser context, bounded by the
// caller's context and the configured navigation timeout.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	if d.navigationTimeout > 0 {
		var tcancel context.CancelFunc
		opCtx, tcancel = context.WithTimeout(opCtx, d.navigationTimeout)
		defer tcancel()
	}
	// Tie the operation to the caller's context so attempt cancellation
	// interrupts an in-flight CDP call.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate implements schemas.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return schemas.Transient(fmt.Errorf("navigation to %s failed: %w", url, err))
	}
	return nil
}

// Fill implements schemas.Driver. The field is cleared before typing so a
// retried stage never concatenates values.
func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	err := d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return schemas.Transient(fmt.Errorf("failed to fill %s: %w", selector, err))
	}
	return nil
}

// SetValue implements schemas.Driver. Unlike Fill it assigns the value
// property directly, which is what native select elements and hidden inputs
// need.
func (d *Driver) SetValue(ctx context.Context, selector, value string) error {
	err := d.run(ctx,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return schemas.Transient(fmt.Errorf("failed to set value of %s: %w", selector, err))
	}
	return nil
}

// Click implements schemas.Driver.
func (d *Driver) Click(ctx context.Context, selector string) error {
	err := d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return schemas.Transient(fmt.Errorf("failed to click %s: %w", selector, err))
	}
	return nil
}

// WaitVisible implements schemas.Driver with an explicit per-call timeout.
func (d *Driver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return schemas.Transient(fmt.Errorf("selector %s not visible after %s: %w", selector, timeout, err))
	}
	return nil
}

// Text implements schemas.Driver.
func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Text(selector, &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", schemas.Transient(fmt.Errorf("failed to read text of %s: %w", selector, err))
	}
	return strings.TrimSpace(text), nil
}

// Capture implements schemas.Driver. Screenshots land in the capture
// directory with a timestamped name; failures are returned but callers treat
// them as advisory.
func (d *Driver) Capture(ctx context.Context, label string) (string, error) {
	if d.captureDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(d.captureDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create capture directory: %w", err)
	}

	var buf []byte
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	})
	if err := d.run(ctx, action); err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}

	name := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405"), sanitizeLabel(label))
	path := filepath.Join(d.captureDir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	d.logger.Debug("Screenshot captured.", zap.String("path", path))
	return path, nil
}

func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
}

// Close implements schemas.Driver. Safe to call more than once.
func (d *Driver) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		for i := len(d.cancels) - 1; i >= 0; i-- {
			d.cancels[i]()
		}
		d.logger.Debug("Driver closed.")
	})
	return nil
}
