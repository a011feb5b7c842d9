// Package subscription refreshes proxy node groups from remote share-link feeds.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pinchtab/veilgate/internal/idutil"
	"github.com/pinchtab/veilgate/internal/proxylink"
	"github.com/pinchtab/veilgate/internal/store"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type Fetcher struct {
	client *resty.Client
	store  *store.Store
}

func NewFetcher(s *store.Store, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("User-Agent", "veilgate/subscription")
	return &Fetcher{client: client, store: s}
}

// Fetch downloads a feed and returns its share links.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]string, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch subscription: status %d", resp.StatusCode())
	}
	return proxylink.DecodeSubscription(resp.String())
}

// Nodes converts links into nodes of groupID. Ids are stable per link so an
// unchanged node keeps its enabled flag and latency from previous.
func Nodes(groupID string, links []string, previous []store.ProxyNode) []store.ProxyNode {
	prev := make(map[string]store.ProxyNode, len(previous))
	for _, n := range previous {
		prev[n.ID] = n
	}
	seen := make(map[string]bool, len(links))
	out := make([]store.ProxyNode, 0, len(links))
	for i, link := range links {
		id := idutil.NodeID(groupID, link)
		if seen[id] {
			continue
		}
		seen[id] = true

		remark := proxylink.Remark(link)
		if remark == "" {
			remark = fmt.Sprintf("Node %d", i+1)
		}
		n := store.ProxyNode{ID: id, Remark: remark, URL: link, Enabled: true, GroupID: groupID}
		if old, ok := prev[id]; ok {
			n.Enabled = old.Enabled
			n.LatencyMs = old.LatencyMs
		}
		out = append(out, n)
	}
	return out
}

// Refresh re-downloads one subscription and replaces its node group.
func (f *Fetcher) Refresh(ctx context.Context, subID string) (int, error) {
	st, err := f.store.Settings()
	if err != nil {
		return 0, err
	}
	var sub *store.Subscription
	for i := range st.Subscriptions {
		if st.Subscriptions[i].ID == subID {
			sub = &st.Subscriptions[i]
			break
		}
	}
	if sub == nil {
		return 0, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
	}

	links, err := f.Fetch(ctx, sub.URL)
	if err != nil {
		return 0, err
	}
	nodes := Nodes(subID, links, st.GroupNodes(subID))
	if _, err := f.store.ReplaceGroup(subID, nodes); err != nil {
		return 0, err
	}
	slog.Info("subscription refreshed", "id", subID, "name", sub.Name, "nodes", len(nodes))
	return len(nodes), nil
}

// Add registers a new subscription and performs its first refresh.
func (f *Fetcher) Add(ctx context.Context, name, url string, intervalHours int) (store.Subscription, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return store.Subscription{}, errors.New("subscription url is required")
	}
	sub := store.Subscription{
		ID:            "sub_" + strings.ReplaceAll(idutil.NewProfileID(), "-", "")[:8],
		Name:          strings.TrimSpace(name),
		URL:           url,
		IntervalHours: intervalHours,
	}
	if sub.Name == "" {
		sub.Name = sub.ID
	}
	if _, err := f.store.UpdateSettings(func(st *store.Settings) error {
		st.Subscriptions = append(st.Subscriptions, sub)
		return nil
	}); err != nil {
		return store.Subscription{}, err
	}
	if _, err := f.Refresh(ctx, sub.ID); err != nil {
		return sub, err
	}
	return sub, nil
}

// RefreshDue refreshes every subscription whose interval has elapsed. Errors
// are logged per subscription and do not stop the sweep.
func (f *Fetcher) RefreshDue(ctx context.Context, now time.Time) int {
	st, err := f.store.Settings()
	if err != nil {
		slog.Warn("subscription sweep: load settings", "err", err)
		return 0
	}
	refreshed := 0
	for _, sub := range st.Subscriptions {
		if !sub.RefreshDue(now) {
			continue
		}
		if _, err := f.Refresh(ctx, sub.ID); err != nil {
			slog.Warn("subscription refresh failed", "id", sub.ID, "err", err)
			continue
		}
		refreshed++
	}
	return refreshed
}

// Run sweeps due subscriptions every interval until ctx is done.
func (f *Fetcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f.RefreshDue(ctx, now)
		}
	}
}
