package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"runtime"

	"github.com/fatih/color"
	"github.com/pinchtab/veilgate/internal/config"
	"github.com/pinchtab/veilgate/internal/identity"
	"github.com/pinchtab/veilgate/internal/ports"
	"github.com/pinchtab/veilgate/internal/proc"
	"github.com/pinchtab/veilgate/internal/proxylink"
	"github.com/pinchtab/veilgate/internal/route"
	"gopkg.in/yaml.v3"
)

// runIdentity prints a generated identity as YAML, the same shape the
// profile store persists.
func runIdentity(cfg *config.RuntimeConfig, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("identity", flag.ContinueOnError)
	fs.SetOutput(out)
	seed := fs.Int64("seed", 0, "deterministic seed (0 = random)")
	platform := fs.String("platform", runtime.GOOS, "host platform to model: windows, darwin or linux")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	opts := identity.Options{ChromeVersion: cfg.ChromeVersion}
	if *seed != 0 {
		opts.Rand = rand.New(rand.NewSource(*seed))
	}
	id := identity.Generate(*platform, runtime.GOARCH, opts)
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(id); err != nil {
		fmt.Fprintf(out, "encode identity: %v\n", err)
		return 1
	}
	return 0
}

// runLatency times each link through a throwaway proxy-core instance.
func runLatency(cfg *config.RuntimeConfig, args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(out, "Usage: veilgate latency <link> [link...]")
		return 2
	}
	p := &route.Prober{
		Runner:     &proc.LocalRunner{},
		Ports:      ports.New(cfg.PortStart, cfg.PortEnd, cfg.DebugPort),
		CoreBinary: cfg.CoreBinary,
		TempDir:    cfg.TempDir(),
		ProbeURL:   cfg.ProbeURL,
		Warmup:     cfg.ProbeWarmup,
		Timeout:    cfg.ProbeTimeout,
	}
	failed := 0
	for _, link := range args {
		res := p.MeasureLatency(context.Background(), link)
		if !res.Success {
			failed++
		}
		fmt.Fprintln(out, formatResult(proxylink.Remark(link), res))
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func formatResult(name string, res route.Result) string {
	if name == "" {
		name = "(unnamed)"
	}
	if !res.Success {
		return fmt.Sprintf("%-32s %s %s", name, color.New(color.FgHiRed).Sprint("FAIL"), res.Reason)
	}
	c := color.New(color.FgHiGreen)
	switch {
	case res.LatencyMs >= 1000:
		c = color.New(color.FgHiRed)
	case res.LatencyMs >= 300:
		c = color.New(color.FgHiYellow)
	}
	return fmt.Sprintf("%-32s %s", name, c.Sprintf("%d ms", res.LatencyMs))
}
