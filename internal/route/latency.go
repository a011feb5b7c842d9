package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/pinchtab/veilgate/internal/ports"
	"github.com/pinchtab/veilgate/internal/proc"
	"github.com/pinchtab/veilgate/internal/proxycore"
	"github.com/pinchtab/veilgate/internal/proxylink"
	"github.com/pinchtab/veilgate/internal/store"
)

const DefaultProbeURL = "http://cp.cloudflare.com/generate_204"

// Result is the outcome of one latency probe. Reason is set when Success is false.
type Result struct {
	Success   bool   `json:"success"`
	LatencyMs int    `json:"latencyMs,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Prober runs disposable proxy-core instances to time a node.
type Prober struct {
	Runner     proc.Runner
	Ports      *ports.Allocator
	CoreBinary string
	TempDir    string
	ProbeURL   string
	Warmup     time.Duration
	Timeout    time.Duration
	// Parallel bounds MeasureGroup concurrency. Zero means 8.
	Parallel int
}

func fail(reason string) Result { return Result{Reason: reason} }

// MeasureLatency times one request through link. The core process is killed,
// its port released and its config deleted on every path.
func (p *Prober) MeasureLatency(ctx context.Context, link string) Result {
	if proxylink.IsSSH(link) {
		return fail("latency test is not supported for ssh links")
	}
	outbound, err := proxylink.Parse(link)
	if err != nil {
		return fail(err.Error())
	}

	port, err := p.Ports.Allocate()
	if err != nil {
		return fail(err.Error())
	}
	defer p.Ports.Release(port)

	if err := os.MkdirAll(p.TempDir, 0o755); err != nil {
		return fail(err.Error())
	}
	cfgPath := filepath.Join(p.TempDir, "test_config_"+strconv.Itoa(port)+".json")
	defer func() {
		if err := os.Remove(cfgPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("latency config cleanup failed", "path", cfgPath, "err", err)
		}
	}()
	if err := proxycore.BuildProbe(port, outbound).WriteFile(cfgPath); err != nil {
		return fail(err.Error())
	}

	logs := proc.NewRingBuffer(4096)
	cmd, err := proxycore.Start(ctx, p.Runner, p.CoreBinary, cfgPath, logs)
	if err != nil {
		return fail(err.Error())
	}
	defer func() {
		cmd.Kill()
		<-cmd.Done()
	}()

	select {
	case <-ctx.Done():
		return fail(ctx.Err().Error())
	case <-cmd.Done():
		return fail(exitReason(logs))
	case <-time.After(p.Warmup):
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client, err := socksClient(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), timeout)
	if err != nil {
		return fail(err.Error())
	}

	probeURL := p.ProbeURL
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		return fail(err.Error())
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return fail("timeout")
		}
		return fail(err.Error())
	}
	_ = resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusNoContent {
		return fail(fmt.Sprintf("status %d", resp.StatusCode))
	}
	ms := int(elapsed.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return Result{Success: true, LatencyMs: ms}
}

func exitReason(logs *proc.RingBuffer) string {
	if tail := proc.TailLogLine(logs.String()); tail != "" {
		return "proxy core exited: " + tail
	}
	return "proxy core exited"
}

func socksClient(addr string, timeout time.Duration) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{DisableKeepAlives: true}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.Dial = dialer.Dial //nolint:staticcheck
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// MeasureGroup probes every node of groupID in parallel, stores the results
// (failed probes as -1) and, in single mode, selects the fastest node.
func (p *Prober) MeasureGroup(ctx context.Context, s *store.Store, groupID string) (map[string]Result, error) {
	st, err := s.Settings()
	if err != nil {
		return nil, err
	}
	nodes := st.GroupNodes(groupID)
	results := make([]Result, len(nodes))

	limit := p.Parallel
	if limit <= 0 {
		limit = 8
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, n := range nodes {
		g.Go(func() error {
			results[i] = p.MeasureLatency(gctx, n.URL)
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]Result, len(nodes))
	latencies := make(map[string]int, len(nodes))
	bestID, best := "", 0
	for i, n := range nodes {
		r := results[i]
		byID[n.ID] = r
		if !r.Success {
			latencies[n.ID] = store.LatencyFailed
			continue
		}
		latencies[n.ID] = r.LatencyMs
		if bestID == "" || r.LatencyMs < best {
			bestID, best = n.ID, r.LatencyMs
		}
	}
	if err := s.SetLatencies(latencies); err != nil {
		return byID, err
	}
	if st.Mode == store.ModeSingle && bestID != "" {
		if err := s.SelectNode(bestID); err != nil {
			return byID, err
		}
		slog.Info("fastest node selected", "group", groupID, "node", bestID, "latencyMs", best)
	}
	return byID, nil
}
