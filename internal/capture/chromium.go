// Package capture renders the /calendar page in headless Chromium and saves
// it as a PNG.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"

	appLog "webcal/internal/log"
)

const (
	DefaultWidth   = 1200
	DefaultHeight  = 880
	DefaultTimeout = 30 * time.Second

	// readySelector matches the page root once the grid markup is complete.
	readySelector = `[data-ready="true"]`
)

// Options defines one snapshot.
type Options struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:8080".
	BaseURL string
	// OutputPath receives the PNG.
	OutputPath string

	// Width and Height are the browser viewport. The grid is laid out for
	// the same size.
	Width  int
	Height int

	Timeout time.Duration

	// Username and Password are sent as basic auth when set.
	Username string
	Password string
}

func (o Options) withDefaults() (Options, error) {
	if o.BaseURL == "" {
		return o, errors.New("capture: base URL is required")
	}
	if o.OutputPath == "" {
		return o, errors.New("capture: output path is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o, nil
}

// PageURL is the /calendar address for o, carrying the viewport so the
// server lays the grid out at the captured size.
func (o Options) PageURL() (string, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return "", fmt.Errorf("capture: base URL: %w", err)
	}
	u = u.JoinPath("calendar")
	if o.Username != "" {
		u.User = url.UserPassword(o.Username, o.Password)
	}
	q := u.Query()
	q.Set("width", strconv.Itoa(o.Width))
	q.Set("height", strconv.Itoa(o.Height))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Snapshot navigates headless Chromium to the calendar page, waits for
// the ready marker and writes a full-page PNG to opts.OutputPath.
func Snapshot(parent context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}
	target, err := opts.PageURL()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Let fonts settle.
		chromedp.Sleep(250 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("snapshot written", "path", opts.OutputPath, "bytes", len(png))
	return nil
}
