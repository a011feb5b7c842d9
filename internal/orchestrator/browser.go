package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/pinchtab/veilgate/internal/identity"
	"github.com/pinchtab/veilgate/internal/uameta"
)

const browserConnectTimeout = 30 * time.Second

// BrowserOptions carries everything needed to start one profile's browser.
type BrowserOptions struct {
	ProfileID   string
	Binary      string
	UserDataDir string
	// ProxyServer is the socks5:// URL of the session's proxy-core inbound.
	ProxyServer string
	Headless    bool
	DebugPort   int
	Extensions  []string
	Identity    identity.Identity
	// Script is evaluated in every new document of every page target.
	Script string
	Output io.Writer
}

// Browser is a live browser process attached over CDP.
type Browser interface {
	// Connected reports whether the control channel is still up.
	Connected() bool
	// Focus brings the primary page to the front.
	Focus(ctx context.Context) error
	// Version returns the browser's full version, e.g. 124.0.6367.91.
	Version(ctx context.Context) (string, error)
	// Done closes when the browser exits or the control channel drops.
	Done() <-chan struct{}
	PID() int
	// Close asks the browser to exit and force-stops it after the timeout.
	Close(timeout time.Duration)
}

type BrowserLauncher interface {
	Launch(ctx context.Context, opts BrowserOptions) (Browser, error)
}

// ChromeLauncher starts Chrome through chromedp's exec allocator.
type ChromeLauncher struct{}

// launchFlags holds the plain command-line switches for one launch. The
// --enable-automation default is dropped so the infobar and
// navigator.webdriver hints never appear.
func launchFlags(opts BrowserOptions) map[string]any {
	flags := map[string]any{
		"enable-automation":      false,
		"no-first-run":           true,
		"restore-last-session":   true,
		"disable-blink-features": "AutomationControlled",
		"disable-infobars":       true,
		"disable-features":       "IsolateOrigins,site-per-process",
	}
	for k, v := range opts.Identity.Protection.ChromeFlags() {
		flags[k] = v
	}
	if !opts.Headless {
		flags["headless"] = false
	}
	if opts.DebugPort > 0 {
		flags["remote-debugging-port"] = fmt.Sprint(opts.DebugPort)
	}
	if lang := opts.Identity.AcceptLanguage(); lang != "" {
		flags["lang"] = lang
	}
	if len(opts.Extensions) > 0 {
		paths := strings.Join(opts.Extensions, ",")
		flags["disable-extensions"] = false
		flags["load-extension"] = paths
		flags["disable-extensions-except"] = paths
	}
	return flags
}

// allocatorOptions turns the profile identity into exec allocator options.
func allocatorOptions(opts BrowserOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out, chromedp.ProxyServer(opts.ProxyServer))

	flags := launchFlags(opts)
	names := make([]string, 0, len(flags))
	for k := range flags {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		out = append(out, chromedp.Flag(k, flags[k]))
	}

	if opts.Headless {
		out = append(out, chromedp.Headless)
	}
	if opts.Binary != "" {
		out = append(out, chromedp.ExecPath(opts.Binary))
	}
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}

	id := opts.Identity
	if id.Window.Width > 0 && id.Window.Height > 0 {
		out = append(out, chromedp.WindowSize(id.Window.Width, id.Window.Height))
	}
	if id.UserAgent != "" {
		out = append(out, chromedp.UserAgent(id.UserAgent))
	}
	if tz := id.FixedTimezone(); tz != "" {
		out = append(out, chromedp.Env("TZ="+tz))
	}
	if opts.Output != nil {
		out = append(out, chromedp.CombinedOutput(opts.Output))
	}
	return out
}

func (ChromeLauncher) Launch(ctx context.Context, opts BrowserOptions) (Browser, error) {
	// The browser outlives the launch request; ctx only bounds the start-up.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}
	// Cancelling the first Run's context would stop the whole browser, so
	// start-up is bounded by timers that cancel the allocator instead.
	stop := context.AfterFunc(ctx, cancel)
	timer := time.AfterFunc(browserConnectTimeout, cancel)
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		return applyIdentity(c, opts.Identity, opts.Script)
	}))
	aborted := !stop()
	timedOut := !timer.Stop()
	switch {
	case aborted:
		cancel()
		return nil, ctx.Err()
	case timedOut:
		cancel()
		return nil, fmt.Errorf("connect to chrome: no response within %v", browserConnectTimeout)
	case err != nil:
		cancel()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	b := &chromeBrowser{ctx: browserCtx, cancel: cancel, done: make(chan struct{})}
	go b.watch()
	b.followNewTargets(opts)
	slog.Info("chrome started", "profile", opts.ProfileID, "pid", b.PID(), "proxy", opts.ProxyServer)
	return b, nil
}

// applyIdentity installs the page script and the emulation overrides on the
// target bound to ctx.
func applyIdentity(ctx context.Context, id identity.Identity, script string) error {
	if script != "" {
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("add script: %w", err)
		}
	}
	if ua := uameta.Build(id); ua != nil {
		if err := ua.Do(ctx); err != nil {
			return fmt.Errorf("user agent override: %w", err)
		}
	}
	if tz := id.FixedTimezone(); tz != "" {
		if err := emulation.SetTimezoneOverride(tz).Do(ctx); err != nil {
			slog.Warn("timezone override failed", "tz", tz, "err", err)
		}
	}
	if g := id.Geolocation; g != nil {
		err := emulation.SetGeolocationOverride().
			WithLatitude(g.Latitude).
			WithLongitude(g.Longitude).
			WithAccuracy(g.Accuracy).
			Do(ctx)
		if err != nil {
			slog.Warn("geolocation override failed", "err", err)
		}
	}
	return nil
}

type chromeBrowser struct {
	ctx    context.Context
	cancel func()
	done   chan struct{}

	closeOnce sync.Once
}

func (b *chromeBrowser) watch() {
	var lost chan struct{}
	if c := chromedp.FromContext(b.ctx); c != nil && c.Browser != nil {
		lost = c.Browser.LostConnection
	}
	select {
	case <-lost:
	case <-b.ctx.Done():
	}
	close(b.done)
}

// followNewTargets applies the identity to pages opened after launch.
func (b *chromeBrowser) followNewTargets(opts BrowserOptions) {
	chromedp.ListenBrowser(b.ctx, func(ev any) {
		created, ok := ev.(*target.EventTargetCreated)
		if !ok || created.TargetInfo == nil || created.TargetInfo.Type != "page" {
			return
		}
		id := created.TargetInfo.TargetID
		go func() {
			// Cancelling a target context closes the tab, so it lives as long
			// as the browser does.
			tabCtx, _ := chromedp.NewContext(b.ctx, chromedp.WithTargetID(id))
			err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(c context.Context) error {
				return applyIdentity(c, opts.Identity, opts.Script)
			}))
			if err != nil && b.Connected() {
				slog.Debug("identity not applied to new tab", "profile", opts.ProfileID, "target", id, "err", err)
			}
		}()
	})
}

func (b *chromeBrowser) Connected() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *chromeBrowser) Done() <-chan struct{} { return b.done }

func (b *chromeBrowser) PID() int {
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return 0
	}
	if p := c.Browser.Process(); p != nil {
		return p.Pid
	}
	return 0
}

// run executes actions on the primary page, abandoning them when ctx ends.
// The browser context itself is never cancelled here.
func (b *chromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (b *chromeBrowser) Focus(ctx context.Context) error {
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Target == nil {
		return fmt.Errorf("browser has no primary page")
	}
	tid := c.Target.TargetID
	return b.run(ctx, chromedp.ActionFunc(func(cc context.Context) error {
		if err := page.BringToFront().Do(cc); err != nil {
			return err
		}
		return target.ActivateTarget(tid).Do(cc)
	}))
}

func (b *chromeBrowser) Version(ctx context.Context) (string, error) {
	var product string
	err := b.run(ctx, chromedp.ActionFunc(func(cc context.Context) error {
		var err error
		_, product, _, _, _, err = browser.GetVersion().Do(cc)
		return err
	}))
	if err != nil {
		return "", err
	}
	return productVersion(product), nil
}

// productVersion extracts 124.0.6367.91 from "HeadlessChrome/124.0.6367.91".
func productVersion(product string) string {
	_, v, ok := strings.Cut(product, "/")
	if !ok {
		return strings.TrimSpace(product)
	}
	return strings.TrimSpace(v)
}

func (b *chromeBrowser) Close(timeout time.Duration) {
	b.closeOnce.Do(func() {
		graceful := make(chan error, 1)
		go func() { graceful <- chromedp.Cancel(b.ctx) }()
		select {
		case err := <-graceful:
			if err != nil {
				slog.Debug("chrome close", "err", err)
			}
		case <-time.After(timeout):
			slog.Warn("chrome did not close in time, killing", "pid", b.PID())
		}
		b.cancel()
	})
}
