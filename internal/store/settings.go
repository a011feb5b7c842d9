package store

import (
	"fmt"
	"time"
)

const ManualGroup = "manual"

// Route modes for the pre-proxy pool.
const (
	ModeSingle   = "single"
	ModeBalance  = "balance"
	ModeFailover = "failover"
)

// Latency sentinels stored in ProxyNode.LatencyMs.
const (
	LatencyUnmeasured = 0
	LatencyFailed     = -1
)

type ProxyNode struct {
	ID        string `yaml:"id" json:"id"`
	Remark    string `yaml:"remark" json:"remark"`
	URL       string `yaml:"url" json:"url"`
	Enabled   bool   `yaml:"enable" json:"enable"`
	GroupID   string `yaml:"groupId" json:"groupId"`
	LatencyMs int    `yaml:"latency" json:"latency"`
}

func (n ProxyNode) Measured() bool { return n.LatencyMs > 0 }
func (n ProxyNode) Failed() bool   { return n.LatencyMs == LatencyFailed }

type Subscription struct {
	ID            string    `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	URL           string    `yaml:"url" json:"url"`
	IntervalHours int       `yaml:"interval" json:"interval"`
	LastUpdated   time.Time `yaml:"lastUpdated" json:"lastUpdated"`
}

// RefreshDue reports whether the subscription's refresh interval has elapsed.
// A zero interval disables automatic refresh.
func (s Subscription) RefreshDue(now time.Time) bool {
	if s.IntervalHours <= 0 {
		return false
	}
	return s.LastUpdated.IsZero() || now.Sub(s.LastUpdated) >= time.Duration(s.IntervalHours)*time.Hour
}

type Settings struct {
	PreProxies     []ProxyNode    `yaml:"preProxies" json:"preProxies"`
	Subscriptions  []Subscription `yaml:"subscriptions" json:"subscriptions"`
	Mode           string         `yaml:"mode" json:"mode"`
	EnablePreProxy bool           `yaml:"enablePreProxy" json:"enablePreProxy"`
	SelectedID     string         `yaml:"selectedId" json:"selectedId"`
	ActiveGroup    string         `yaml:"activeGroup" json:"activeGroup"`
	Notify         bool           `yaml:"notify" json:"notify"`
	WatermarkStyle string         `yaml:"watermarkStyle" json:"watermarkStyle"`
}

func DefaultSettings() Settings {
	return Settings{
		PreProxies:     []ProxyNode{},
		Mode:           ModeSingle,
		ActiveGroup:    ManualGroup,
		WatermarkStyle: "enhanced",
	}
}

func (st *Settings) normalize() {
	switch st.Mode {
	case ModeSingle, ModeBalance, ModeFailover:
	default:
		st.Mode = ModeSingle
	}
	if st.ActiveGroup == "" {
		st.ActiveGroup = ManualGroup
	}
	for i := range st.PreProxies {
		if st.PreProxies[i].GroupID == "" {
			st.PreProxies[i].GroupID = ManualGroup
		}
	}
}

// GroupNodes returns the nodes that belong to groupID, in stored order.
func (st Settings) GroupNodes(groupID string) []ProxyNode {
	var out []ProxyNode
	for _, n := range st.PreProxies {
		if n.GroupID == groupID {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Settings() (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadSettings()
}

func (s *Store) SaveSettings(st Settings) error {
	st.normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeYAML(s.settingsPath, st)
}

// UpdateSettings runs fn on the current settings and saves the result unless
// fn returns an error.
func (s *Store) UpdateSettings(fn func(*Settings) error) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadSettings()
	if err != nil {
		return Settings{}, err
	}
	if err := fn(&st); err != nil {
		return Settings{}, err
	}
	st.normalize()
	if err := writeYAML(s.settingsPath, st); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// ReplaceGroup swaps every node of groupID for nodes in one write. Nodes of
// other groups keep their position.
func (s *Store) ReplaceGroup(groupID string, nodes []ProxyNode) (Settings, error) {
	return s.UpdateSettings(func(st *Settings) error {
		kept := make([]ProxyNode, 0, len(st.PreProxies)+len(nodes))
		for _, n := range st.PreProxies {
			if n.GroupID != groupID {
				kept = append(kept, n)
			}
		}
		for _, n := range nodes {
			n.GroupID = groupID
			kept = append(kept, n)
		}
		st.PreProxies = kept
		for i := range st.Subscriptions {
			if st.Subscriptions[i].ID == groupID {
				st.Subscriptions[i].LastUpdated = time.Now().UTC()
			}
		}
		return nil
	})
}

// DeleteGroup removes a subscription and all of its nodes.
func (s *Store) DeleteGroup(groupID string) error {
	_, err := s.UpdateSettings(func(st *Settings) error {
		nodes := st.PreProxies[:0]
		for _, n := range st.PreProxies {
			if n.GroupID != groupID {
				nodes = append(nodes, n)
			}
		}
		st.PreProxies = nodes
		subs := st.Subscriptions[:0]
		for _, sub := range st.Subscriptions {
			if sub.ID != groupID {
				subs = append(subs, sub)
			}
		}
		st.Subscriptions = subs
		if st.ActiveGroup == groupID {
			st.ActiveGroup = ManualGroup
		}
		return nil
	})
	return err
}

// SetLatencies records measured latencies keyed by node id in one write.
func (s *Store) SetLatencies(results map[string]int) error {
	_, err := s.UpdateSettings(func(st *Settings) error {
		for i := range st.PreProxies {
			if ms, ok := results[st.PreProxies[i].ID]; ok {
				st.PreProxies[i].LatencyMs = ms
			}
		}
		return nil
	})
	return err
}

// SelectNode makes nodeID the explicit choice for single mode.
func (s *Store) SelectNode(nodeID string) error {
	_, err := s.UpdateSettings(func(st *Settings) error {
		for _, n := range st.PreProxies {
			if n.ID == nodeID {
				st.SelectedID = nodeID
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	})
	return err
}
