package route

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pinchtab/veilgate/internal/ports"
	"github.com/pinchtab/veilgate/internal/proc"
	"github.com/pinchtab/veilgate/internal/proc/proctest"
	"github.com/pinchtab/veilgate/internal/proxycore"
	"github.com/pinchtab/veilgate/internal/store"
)

func newProber(t *testing.T, runner proc.Runner, probeURL string) *Prober {
	t.Helper()
	return &Prober{
		Runner:     runner,
		Ports:      ports.New(41000, 41999),
		CoreBinary: "xray",
		TempDir:    t.TempDir(),
		ProbeURL:   probeURL,
		Warmup:     10 * time.Millisecond,
		Timeout:    2 * time.Second,
	}
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// serveSOCKS answers the minimal no-auth CONNECT handshake and relays bytes.
func serveSOCKS(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			buf := make([]byte, 262)
			if _, err := io.ReadFull(c, buf[:2]); err != nil {
				return
			}
			if _, err := io.ReadFull(c, buf[:buf[1]]); err != nil {
				return
			}
			_, _ = c.Write([]byte{5, 0})
			if _, err := io.ReadFull(c, buf[:4]); err != nil {
				return
			}
			var host string
			switch buf[3] {
			case 1:
				_, _ = io.ReadFull(c, buf[:4])
				host = net.IP(buf[:4]).String()
			case 3:
				_, _ = io.ReadFull(c, buf[:1])
				n := int(buf[0])
				_, _ = io.ReadFull(c, buf[:n])
				host = string(buf[:n])
			default:
				return
			}
			_, _ = io.ReadFull(c, buf[:2])
			port := binary.BigEndian.Uint16(buf[:2])
			up, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
			if err != nil {
				_, _ = c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
				return
			}
			defer up.Close()
			_, _ = c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
			go func() { _, _ = io.Copy(up, c) }()
			_, _ = io.Copy(c, up)
		}(conn)
	}
}

// socksRunner starts an in-process SOCKS server on the port named in the
// generated probe config, standing in for the proxy core.
func socksRunner(t *testing.T) *proctest.Runner {
	return &proctest.Runner{OnStart: func(spec proc.Spec, cmd *proctest.Cmd) error {
		data, err := os.ReadFile(spec.Args[len(spec.Args)-1])
		if err != nil {
			return err
		}
		var cfg proxycore.Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Inbounds[0].Port)))
		if err != nil {
			return err
		}
		go serveSOCKS(ln)
		go func() {
			<-cmd.Done()
			ln.Close()
		}()
		return nil
	}}
}

func TestMeasureLatencySuccess(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	runner := socksRunner(t)
	p := newProber(t, runner, target.URL+"/generate_204")
	res := p.MeasureLatency(context.Background(), "socks://127.0.0.1:1080#local")
	if !res.Success || res.LatencyMs <= 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	if cmds := runner.ByBinary("xray"); len(cmds) != 1 || !cmds[0].Killed() {
		t.Error("probe core was not killed")
	}
	if files := tempFiles(t, p.TempDir); len(files) != 0 {
		t.Errorf("temp files left behind: %v", files)
	}
	if got := p.Ports.Allocated(); len(got) != 0 {
		t.Errorf("ports still allocated: %v", got)
	}
}

func TestMeasureLatencyWrongStatus(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	p := newProber(t, socksRunner(t), target.URL)
	res := p.MeasureLatency(context.Background(), "socks://127.0.0.1:1080")
	if res.Success || res.Reason != "status 200" {
		t.Errorf("got %+v", res)
	}
}

func TestMeasureLatencyUnreachable(t *testing.T) {
	runner := &proctest.Runner{}
	p := newProber(t, runner, "http://127.0.0.1:9/generate_204")
	p.Timeout = 500 * time.Millisecond

	start := time.Now()
	res := p.MeasureLatency(context.Background(), "vless://id@203.0.113.1:443?security=tls#dead")
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Reason == "" {
		t.Error("failure without reason")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("took %v, beyond the timeout bound", elapsed)
	}
	if files := tempFiles(t, p.TempDir); len(files) != 0 {
		t.Errorf("temp files left behind: %v", files)
	}
	if !runner.Started[0].Killed() {
		t.Error("probe core was not killed")
	}
}

func TestMeasureLatencyCoreExitsEarly(t *testing.T) {
	runner := &proctest.Runner{OnStart: func(spec proc.Spec, cmd *proctest.Cmd) error {
		_, _ = io.WriteString(spec.Stdout, "Failed to start: bad config\n")
		cmd.Exit(nil)
		return nil
	}}
	p := newProber(t, runner, "")
	p.Warmup = time.Second
	res := p.MeasureLatency(context.Background(), "socks://127.0.0.1:1080")
	if res.Success || res.Reason != "proxy core exited: Failed to start: bad config" {
		t.Errorf("got %+v", res)
	}
}

func TestMeasureLatencyRejectsBadLinks(t *testing.T) {
	runner := &proctest.Runner{}
	p := newProber(t, runner, "")
	for _, link := range []string{"ssh://root@host", "nonsense", "vmess://!!!"} {
		if res := p.MeasureLatency(context.Background(), link); res.Success {
			t.Errorf("%s: expected failure", link)
		}
	}
	if runner.Count() != 0 {
		t.Error("no process should start for invalid links")
	}
}

func TestMeasureGroupSelectsFastest(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	dir := t.TempDir()
	s := store.Open(filepath.Join(dir, "profiles.yaml"), filepath.Join(dir, "settings.yaml"))
	_ = s.SaveSettings(store.Settings{
		Mode: store.ModeSingle,
		PreProxies: []store.ProxyNode{
			{ID: "good", URL: "socks://127.0.0.1:1080", Enabled: true, GroupID: "sub"},
			{ID: "bad", URL: "ssh://root@host", Enabled: true, GroupID: "sub"},
			{ID: "other", URL: "socks://127.0.0.1:1080", Enabled: true, GroupID: store.ManualGroup},
		},
	})

	p := newProber(t, socksRunner(t), target.URL)
	results, err := p.MeasureGroup(context.Background(), s, "sub")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || !results["good"].Success || results["bad"].Success {
		t.Fatalf("results = %+v", results)
	}

	st, _ := s.Settings()
	if st.SelectedID != "good" {
		t.Errorf("selected = %q", st.SelectedID)
	}
	for _, n := range st.PreProxies {
		switch n.ID {
		case "good":
			if !n.Measured() {
				t.Errorf("good latency = %d", n.LatencyMs)
			}
		case "bad":
			if !n.Failed() {
				t.Errorf("bad latency = %d", n.LatencyMs)
			}
		case "other":
			if n.LatencyMs != store.LatencyUnmeasured {
				t.Errorf("other group touched: %d", n.LatencyMs)
			}
		}
	}
}
