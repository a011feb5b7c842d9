// Package route decides which pre-proxy node, if any, sits in front of a
// profile's own upstream and measures node latency.
package route

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pinchtab/veilgate/internal/store"
)

// ModeNone means no pre-proxy hop.
const ModeNone = "none"

type Config struct {
	Mode string
	Node *store.ProxyNode
	// Message is a human notice for balance/failover picks, set only when
	// notifications are on.
	Message string
}

func (c Config) Enabled() bool { return c.Node != nil }

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randIntn(n int) int {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Intn(n)
}

// SetRand swaps the balance-mode source. Tests use it for reproducibility.
func SetRand(r *rand.Rand) (restore func()) {
	rngMu.Lock()
	old := rng
	rng = r
	rngMu.Unlock()
	return func() {
		rngMu.Lock()
		rng = old
		rngMu.Unlock()
	}
}

// PreProxyEnabled applies a profile's override to the global switch.
func PreProxyEnabled(st store.Settings, override string) bool {
	switch store.NormalizeOverride(override) {
	case store.OverrideOn:
		return true
	case store.OverrideOff:
		return false
	default:
		return st.EnablePreProxy
	}
}

// Resolve picks the pre-proxy node for one launch. Only enabled nodes of the
// active group are candidates.
func Resolve(st store.Settings, override string) Config {
	if !PreProxyEnabled(st, override) {
		return Config{Mode: ModeNone}
	}

	group := st.ActiveGroup
	if group == "" {
		group = store.ManualGroup
	}
	var enabled []store.ProxyNode
	for _, n := range st.PreProxies {
		if n.Enabled && (n.GroupID == group || (n.GroupID == "" && group == store.ManualGroup)) {
			enabled = append(enabled, n)
		}
	}
	if len(enabled) == 0 {
		return Config{Mode: ModeNone}
	}

	var pick store.ProxyNode
	mode := st.Mode
	switch mode {
	case store.ModeBalance:
		pick = enabled[randIntn(len(enabled))]
	case store.ModeFailover:
		pick = enabled[0]
	default:
		mode = store.ModeSingle
		pick = enabled[0]
		for _, n := range enabled {
			if n.ID == st.SelectedID {
				pick = n
				break
			}
		}
	}

	cfg := Config{Mode: mode, Node: &pick}
	if st.Notify && mode != store.ModeSingle {
		label := "Balance"
		if mode == store.ModeFailover {
			label = "Failover"
		}
		cfg.Message = fmt.Sprintf("%s: [%s]", label, pick.Remark)
	}
	return cfg
}
