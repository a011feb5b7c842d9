// Package orchestrator owns the per-profile session registry. A session is a
// proxy-core process, an optional ssh tunnel and a browser, started in that
// order and torn down together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pinchtab/veilgate/internal/config"
	"github.com/pinchtab/veilgate/internal/events"
	"github.com/pinchtab/veilgate/internal/identity"
	"github.com/pinchtab/veilgate/internal/idutil"
	"github.com/pinchtab/veilgate/internal/journal"
	"github.com/pinchtab/veilgate/internal/payload"
	"github.com/pinchtab/veilgate/internal/ports"
	"github.com/pinchtab/veilgate/internal/proc"
	"github.com/pinchtab/veilgate/internal/proxycore"
	"github.com/pinchtab/veilgate/internal/proxylink"
	"github.com/pinchtab/veilgate/internal/route"
	"github.com/pinchtab/veilgate/internal/store"
	"github.com/pinchtab/veilgate/internal/subscription"
	"github.com/pinchtab/veilgate/internal/tunnel"
	"github.com/pinchtab/veilgate/internal/web"
)

const browserCloseTimeout = 5 * time.Second

// Options supplies collaborators. Zero fields get production defaults where
// one exists; a nil Tunnels, Journal, Broker or Fetcher disables that
// feature.
type Options struct {
	Runner   proc.Runner
	Ports    *ports.Allocator
	Tunnels  TunnelOpener
	Browsers BrowserLauncher
	Journal  *journal.Journal
	Bus      *events.Bus
	Prober   *route.Prober
	Broker   *tunnel.Broker
	Fetcher  *subscription.Fetcher
}

// slot is a registry entry. sess is nil while the launch is in flight.
type slot struct {
	sess   *Session
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type Orchestrator struct {
	cfg      *config.RuntimeConfig
	store    *store.Store
	runner   proc.Runner
	ports    *ports.Allocator
	tunnels  TunnelOpener
	browsers BrowserLauncher
	journal  *journal.Journal
	bus      *events.Bus
	prober   *route.Prober
	broker   *tunnel.Broker
	fetcher  *subscription.Fetcher

	mu         sync.Mutex
	slots      map[string]*slot
	debugOwner string
}

func New(cfg *config.RuntimeConfig, st *store.Store, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		runner:   opts.Runner,
		ports:    opts.Ports,
		tunnels:  opts.Tunnels,
		browsers: opts.Browsers,
		journal:  opts.Journal,
		bus:      opts.Bus,
		prober:   opts.Prober,
		broker:   opts.Broker,
		fetcher:  opts.Fetcher,
		slots:    make(map[string]*slot),
	}
	if o.runner == nil {
		o.runner = &proc.LocalRunner{}
	}
	if o.ports == nil {
		o.ports = ports.New(cfg.PortStart, cfg.PortEnd, cfg.DebugPort)
	}
	if o.browsers == nil {
		o.browsers = ChromeLauncher{}
	}
	if o.bus == nil {
		o.bus = events.NewBus(64)
	}
	if o.prober == nil {
		o.prober = &route.Prober{
			Runner:     o.runner,
			Ports:      o.ports,
			CoreBinary: cfg.CoreBinary,
			TempDir:    cfg.TempDir(),
			ProbeURL:   cfg.ProbeURL,
			Warmup:     cfg.ProbeWarmup,
			Timeout:    cfg.ProbeTimeout,
		}
	}
	o.bus.SetSnapshot(o.snapshot)
	return o
}

func (o *Orchestrator) Bus() *events.Bus { return o.bus }

func (o *Orchestrator) snapshot() any {
	snap := map[string]any{"running": o.RunningIDs()}
	if o.broker != nil {
		snap["hostKeyRequests"] = o.broker.Pending()
	}
	return snap
}

// Launch starts the profile's session, or focuses it when it already runs.
// A second call racing an in-flight launch waits for that launch and then
// focuses its result instead of starting another session.
func (o *Orchestrator) Launch(ctx context.Context, profileID string) (SessionInfo, error) {
	for {
		o.mu.Lock()
		sl, ok := o.slots[profileID]
		if !ok {
			sl = &slot{done: make(chan struct{})}
			// The launch belongs to the slot, not to this caller: only Close
			// and Shutdown abort it, so a dropped request never fails waiters.
			sl.ctx, sl.cancel = context.WithCancel(context.WithoutCancel(ctx))
			o.slots[profileID] = sl
			o.mu.Unlock()
			res := make(chan launchResult, 1)
			go func() {
				info, err := o.runLaunch(profileID, sl)
				res <- launchResult{info, err}
			}()
			select {
			case r := <-res:
				return r.info, r.err
			case <-ctx.Done():
				return SessionInfo{}, ctx.Err()
			}
		}

		sess := sl.sess
		if sess == nil {
			o.mu.Unlock()
			select {
			case <-sl.done:
			case <-ctx.Done():
				return SessionInfo{}, ctx.Err()
			}
			if sl.err != nil {
				return SessionInfo{}, sl.err
			}
			continue
		}

		if sess.browser.Connected() {
			o.mu.Unlock()
			err := sess.browser.Focus(ctx)
			if err == nil || sess.browser.Connected() {
				if err != nil {
					slog.Warn("focus failed", "profile", profileID, "err", err)
				}
				info := sess.Info()
				info.Reused = true
				info.Message = "session already running, window focused"
				return info, nil
			}
			o.mu.Lock()
			if cur, ok := o.slots[profileID]; !ok || cur != sl {
				o.mu.Unlock()
				continue
			}
		}

		// Registered but the browser is gone: reclaim before a fresh start.
		delete(o.slots, profileID)
		o.mu.Unlock()
		slog.Warn("reclaiming stale session", "profile", profileID, "session", sess.ID)
		o.teardown(sess, journal.ReasonReplaced)
	}
}

type launchResult struct {
	info SessionInfo
	err  error
}

func (o *Orchestrator) runLaunch(profileID string, sl *slot) (SessionInfo, error) {
	defer sl.cancel()
	o.bus.ProfileStatus(profileID, events.StatusStarting, "")

	sess, err := o.start(sl.ctx, profileID)

	o.mu.Lock()
	current := o.slots[profileID] == sl
	if current {
		if err != nil {
			delete(o.slots, profileID)
		} else {
			sl.sess = sess
			o.bus.ProfileStatus(profileID, events.StatusRunning, sess.Message)
			go o.supervise(sess)
		}
	}
	o.mu.Unlock()

	if !current {
		if sess != nil {
			o.teardown(sess, journal.ReasonClosed)
		} else {
			o.bus.ProfileStatus(profileID, events.StatusStopped, "launch aborted")
		}
		err = ErrLaunchAborted
	}
	sl.err = err
	close(sl.done)

	if err != nil {
		if current {
			o.bus.ProfileStatus(profileID, events.StatusFailed, err.Error())
		}
		slog.Warn("launch failed", "profile", profileID, "err", err)
		return SessionInfo{}, err
	}
	slog.Info("session running", "profile", profileID, "session", sess.ID,
		"port", sess.LocalPort, "tunnel", sess.TunnelKind, "route", sess.RouteMode)
	return sess.Info(), nil
}

type launchPlan struct {
	route   route.Config
	primary proxycore.Outbound
	pre     *proxycore.Outbound
	sshLink string
	// identity is the profile identity reconciled to the bundled browser.
	identity identity.Identity
}

// plan validates everything that can be checked before a process starts.
func (o *Orchestrator) plan(prof store.Profile, st store.Settings) (launchPlan, error) {
	link := strings.TrimSpace(prof.ProxyLink)
	if link == "" {
		return launchPlan{}, &ConfigError{ProfileID: prof.ID, Reason: "no proxy link"}
	}
	p := launchPlan{route: route.Resolve(st, prof.PreProxyOverride), identity: prof.Identity}
	if v := o.cfg.ChromeVersion; v != "" {
		p.identity, _ = identity.ReconcileChromeVersion(p.identity, v)
	}
	if err := p.identity.Consistent(); err != nil {
		return launchPlan{}, &ConfigError{ProfileID: prof.ID, Reason: "inconsistent identity", Cause: err}
	}

	if proxylink.IsSSH(link) {
		if _, err := tunnel.ParseLink(link); err != nil {
			return launchPlan{}, &ConfigError{ProfileID: prof.ID, Reason: "invalid ssh link", Cause: err}
		}
		if o.tunnels == nil {
			return launchPlan{}, &ConfigError{ProfileID: prof.ID, Reason: "ssh tunnels are not configured"}
		}
		if p.route.Enabled() {
			slog.Info("pre-proxy skipped for ssh upstream", "profile", prof.ID, "node", p.route.Node.Remark)
		}
		p.route = route.Config{Mode: route.ModeNone}
		p.sshLink = link
		return p, nil
	}

	ob, err := proxylink.Parse(link)
	if err != nil {
		return launchPlan{}, &ConfigError{ProfileID: prof.ID, Reason: "invalid proxy link", Cause: err}
	}
	p.primary = ob
	if p.route.Enabled() {
		pre, err := proxylink.Parse(p.route.Node.URL)
		if err != nil {
			return launchPlan{}, &ConfigError{ProfileID: prof.ID, Reason: "invalid pre-proxy " + p.route.Node.Remark, Cause: err}
		}
		p.pre = &pre
	}
	return p, nil
}

// start brings up the whole chain. On any failure everything it started is
// released before returning, so nothing is left half running.
func (o *Orchestrator) start(ctx context.Context, profileID string) (*Session, error) {
	prof, err := o.store.Profile(profileID)
	if err != nil {
		return nil, err
	}
	st, err := o.store.Settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	plan, err := o.plan(prof, st)
	if err != nil {
		return nil, err
	}

	dir, err := web.SafePath(filepath.Join(o.cfg.DataDir, "profiles"), profileID)
	if err != nil {
		return nil, &ConfigError{ProfileID: profileID, Reason: "invalid profile id", Cause: err}
	}
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	sess := &Session{
		ProfileID: profileID,
		RouteMode: plan.route.Mode,
		Message:   plan.route.Message,
		StartedAt: time.Now(),
		stopped:   make(chan struct{}),
	}
	sess.ID = idutil.SessionID(profileID, sess.StartedAt)
	if plan.route.Enabled() {
		sess.PreProxy = plan.route.Node.Remark
	}
	ok := false
	defer func() {
		if !ok {
			o.release(sess)
		}
	}()

	port, err := o.ports.Allocate()
	if err != nil {
		return nil, err
	}
	sess.LocalPort = port

	primary := plan.primary
	if plan.sshLink != "" {
		t, err := o.tunnels.OpenTunnel(ctx, profileID, dir, plan.sshLink)
		if err != nil {
			return nil, err
		}
		sess.tunnel = t
		sess.TunnelKind = tunnel.KindSSH
		primary = proxycore.SocksOutbound("127.0.0.1", t.Port(), "", "")
	}

	if err := o.startCore(ctx, sess, dir, primary, plan.pre); err != nil {
		return nil, err
	}
	if err := o.startBrowser(ctx, sess, prof, plan.identity, st, dir); err != nil {
		return nil, err
	}

	if o.journal != nil {
		rec := journal.Record{
			ID:         sess.ID,
			ProfileID:  profileID,
			LocalPort:  sess.LocalPort,
			TunnelKind: sess.TunnelKind,
			RouteMode:  sess.RouteMode,
			PreProxy:   sess.PreProxy,
			BrowserPID: sess.browser.PID(),
			CorePID:    sess.core.PID(),
			StartTime:  sess.StartedAt.UTC().Unix(),
		}
		if sess.tunnel != nil {
			rec.SSHPID = sess.tunnel.PID()
		}
		if err := o.journal.Start(rec); err != nil {
			slog.Warn("journal start failed", "profile", profileID, "err", err)
		} else {
			sess.journaled = true
		}
	}
	ok = true
	return sess, nil
}

func (o *Orchestrator) startCore(ctx context.Context, sess *Session, dir string, primary proxycore.Outbound, pre *proxycore.Outbound) error {
	cfgPath := filepath.Join(dir, "proxy-core.json")
	if err := proxycore.Build(sess.LocalPort, primary, pre).WriteFile(cfgPath); err != nil {
		return fmt.Errorf("write proxy-core config: %w", err)
	}

	logPath := filepath.Join(dir, "logs", "proxy-core.log")
	logFile, err := proc.OpenLog(logPath)
	if err != nil {
		return fmt.Errorf("open proxy-core log: %w", err)
	}
	sess.coreLog = logFile

	cmd, err := proxycore.Start(context.WithoutCancel(ctx), o.runner, o.cfg.CoreBinary, cfgPath, logFile)
	if err != nil {
		return &SpawnError{Component: "proxy core", LogPath: logPath, Cause: err}
	}
	sess.core = cmd
	slog.Info("proxy core started", "profile", sess.ProfileID, "pid", cmd.PID(), "port", sess.LocalPort)

	warm := time.NewTimer(o.cfg.CoreWarmup)
	defer warm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cmd.Done():
		return &SpawnError{Component: "proxy core", LogPath: logPath, Cause: errors.New("exited during warm-up")}
	case <-warm.C:
		return nil
	}
}

func (o *Orchestrator) startBrowser(ctx context.Context, sess *Session, prof store.Profile, id identity.Identity, st store.Settings, dir string) error {
	watermark := prof.WatermarkStyle
	if watermark == "" {
		watermark = st.WatermarkStyle
	}
	script, err := payload.Build(id, prof.Name, payload.NormalizeWatermark(watermark))
	if err != nil {
		return fmt.Errorf("build page script: %w", err)
	}

	userData := filepath.Join(dir, "browser_data")
	if err := prepareUserDataDir(userData, prof.Name, !prof.IsSetup); err != nil {
		return err
	}

	logPath := filepath.Join(dir, "logs", "browser.log")
	logFile, err := proc.OpenLog(logPath)
	if err != nil {
		return fmt.Errorf("open browser log: %w", err)
	}
	sess.browserLog = logFile
	sess.DebugPort = o.claimDebugPort(sess.ProfileID)

	br, err := o.browsers.Launch(ctx, BrowserOptions{
		ProfileID:   sess.ProfileID,
		Binary:      o.cfg.ChromeBinary,
		UserDataDir: userData,
		ProxyServer: sess.proxyURL(),
		Headless:    o.cfg.Headless,
		DebugPort:   sess.DebugPort,
		Extensions:  listExtensions(o.cfg.ExtensionsDir),
		Identity:    id,
		Script:      script,
		Output:      logFile,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SpawnError{Component: "browser", LogPath: logPath, Cause: err}
	}
	sess.browser = br
	o.persistIdentity(ctx, prof, id, br)
	return nil
}

// persistIdentity stores the identity reconciled against the running
// browser's version and marks the profile as set up.
func (o *Orchestrator) persistIdentity(ctx context.Context, prof store.Profile, id identity.Identity, br Browser) {
	if v, err := br.Version(ctx); err != nil {
		slog.Debug("browser version unavailable", "profile", prof.ID, "err", err)
	} else if next, changed := identity.ReconcileChromeVersion(id, v); changed {
		slog.Info("identity reconciled to browser version", "profile", prof.ID, "version", v)
		id = next
	}
	if prof.IsSetup && id.ChromeVersion == prof.Identity.ChromeVersion && id.UserAgent == prof.Identity.UserAgent {
		return
	}
	_, err := o.store.UpdateProfile(prof.ID, func(p *store.Profile) {
		p.Identity = id
		p.IsSetup = true
	})
	if err != nil {
		slog.Warn("persist profile after launch failed", "profile", prof.ID, "err", err)
	}
}

// claimDebugPort gives the configured remote-debugging port to the first
// session that asks while no other session holds it.
func (o *Orchestrator) claimDebugPort(profileID string) int {
	if o.cfg.DebugPort <= 0 {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.debugOwner != "" {
		return 0
	}
	o.debugOwner = profileID
	return o.cfg.DebugPort
}

func (o *Orchestrator) releaseDebugPort(sess *Session) {
	if sess.DebugPort == 0 {
		return
	}
	o.mu.Lock()
	if o.debugOwner == sess.ProfileID {
		o.debugOwner = ""
	}
	o.mu.Unlock()
}

// supervise waits for any process in the chain to go away and tears the
// whole session down, so a crashed browser never strands its proxy core
// or tunnel.
func (o *Orchestrator) supervise(sess *Session) {
	var tunnelDone <-chan struct{}
	if sess.tunnel != nil {
		tunnelDone = sess.tunnel.Done()
	}

	var cause string
	select {
	case <-sess.stopped:
		return
	case <-sess.browser.Done():
		cause = "browser disconnected"
	case <-sess.core.Done():
		cause = "proxy core exited"
	case <-tunnelDone:
		cause = "ssh tunnel exited"
	}

	o.mu.Lock()
	sl, ok := o.slots[sess.ProfileID]
	owned := ok && sl.sess == sess
	if owned {
		delete(o.slots, sess.ProfileID)
	}
	o.mu.Unlock()
	if !owned {
		return
	}
	slog.Warn("session lost", "profile", sess.ProfileID, "session", sess.ID, "cause", cause)
	o.teardown(sess, journal.ReasonCrashed)
}

// Close stops the profile's session. It never fails; closing a profile that
// is not running does nothing. A launch still in flight is aborted and Close
// returns once it has unwound.
func (o *Orchestrator) Close(profileID string) bool {
	o.mu.Lock()
	sl, ok := o.slots[profileID]
	var sess *Session
	if ok {
		delete(o.slots, profileID)
		sess = sl.sess
	}
	o.mu.Unlock()
	if !ok {
		return false
	}

	if sess == nil {
		slog.Info("aborting in-flight launch", "profile", profileID)
		sl.cancel()
		<-sl.done
		return true
	}
	o.teardown(sess, journal.ReasonClosed)
	return true
}

// teardown runs once per session, after it has been deregistered.
func (o *Orchestrator) teardown(sess *Session, reason string) {
	sess.teardownOnce.Do(func() {
		close(sess.stopped)
		o.release(sess)
		if sess.journaled {
			if err := o.journal.Stop(sess.ID, reason); err != nil {
				slog.Warn("journal stop failed", "profile", sess.ProfileID, "err", err)
			}
		}
		o.bus.ProfileStatus(sess.ProfileID, events.StatusStopped, reason)
		slog.Info("session closed", "profile", sess.ProfileID, "session", sess.ID, "reason", reason)
	})
}

// release kills and frees whatever part of the chain exists. It is best
// effort and continues past individual failures.
func (o *Orchestrator) release(sess *Session) {
	if sess.core != nil {
		sess.core.Kill()
	}
	if sess.tunnel != nil {
		sess.tunnel.Close()
	}
	if sess.browser != nil {
		sess.browser.Close(browserCloseTimeout)
	}
	for _, f := range []*os.File{sess.coreLog, sess.browserLog} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			slog.Debug("close session log", "profile", sess.ProfileID, "err", err)
		}
	}
	if d := o.cfg.SettleDelay; d > 0 {
		time.Sleep(d)
	}
	if sess.LocalPort > 0 {
		o.ports.Release(sess.LocalPort)
	}
	o.releaseDebugPort(sess)
}

// RunningIDs lists profiles with a registered session, sorted.
func (o *Orchestrator) RunningIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.slots))
	for id, sl := range o.slots {
		if sl.sess != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) Sessions() []SessionInfo {
	o.mu.Lock()
	list := make([]*Session, 0, len(o.slots))
	for _, sl := range o.slots {
		if sl.sess != nil {
			list = append(list, sl.sess)
		}
	}
	o.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileID < out[j].ProfileID })
	return out
}

// TestLatency measures one link through a throwaway proxy core.
func (o *Orchestrator) TestLatency(ctx context.Context, link string) route.Result {
	return o.prober.MeasureLatency(ctx, strings.TrimSpace(link))
}

// Shutdown closes every session and aborts every in-flight launch.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	slots := o.slots
	o.slots = make(map[string]*slot)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for id, sl := range slots {
		wg.Add(1)
		go func(profileID string, sl *slot) {
			defer wg.Done()
			if sl.sess == nil {
				sl.cancel()
				<-sl.done
				return
			}
			slog.Info("stopping session", "profile", profileID)
			o.teardown(sl.sess, journal.ReasonShutdown)
		}(id, sl)
	}
	wg.Wait()
}
