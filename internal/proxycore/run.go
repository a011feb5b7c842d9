package proxycore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pinchtab/veilgate/internal/proc"
)

// Args returns the argv that runs the core against a config file.
func Args(configPath string) []string {
	return []string{"run", "-c", configPath}
}

// Start launches the core binary against configPath. The working directory
// is the binary's own so geoip/geosite assets next to it are found.
func Start(ctx context.Context, runner proc.Runner, binary, configPath string, out io.Writer) (proc.Cmd, error) {
	spec := proc.Spec{
		Binary: binary,
		Args:   Args(configPath),
		Env:    os.Environ(),
		Stdout: out,
		Stderr: out,
	}
	if filepath.IsAbs(binary) {
		spec.Dir = filepath.Dir(binary)
	}
	cmd, err := runner.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("start proxy core %s: %w", binary, err)
	}
	return cmd, nil
}
