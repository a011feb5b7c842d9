package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/pinchtab/veilgate/internal/identity"
	"github.com/pinchtab/veilgate/internal/payload"
	"github.com/pinchtab/veilgate/internal/store"
	"github.com/pinchtab/veilgate/internal/subscription"
	"github.com/pinchtab/veilgate/internal/web"
)

func (o *Orchestrator) registerProfileHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /profiles", o.handleListProfiles)
	mux.HandleFunc("POST /profiles", o.handleCreateProfile)
	mux.HandleFunc("GET /profiles/{id}", o.handleGetProfile)
	mux.HandleFunc("PATCH /profiles/{id}", o.handleUpdateProfile)
	mux.HandleFunc("DELETE /profiles/{id}", o.handleDeleteProfile)
	mux.HandleFunc("POST /profiles/{id}/identity", o.handleRegenerateIdentity)

	mux.HandleFunc("GET /settings", o.handleGetSettings)
	mux.HandleFunc("PUT /settings", o.handlePutSettings)
	mux.HandleFunc("POST /nodes/{id}/select", o.handleSelectNode)
	mux.HandleFunc("DELETE /groups/{id}", o.handleDeleteGroup)

	mux.HandleFunc("POST /subscriptions", o.handleAddSubscription)
	mux.HandleFunc("POST /subscriptions/{id}/refresh", o.handleRefreshSubscription)
}

func profileStatus(err error) int {
	if errors.Is(err, store.ErrProfileNotFound) || errors.Is(err, store.ErrNodeNotFound) {
		return 404
	}
	return 500
}

func (o *Orchestrator) newIdentity() identity.Identity {
	return identity.Generate(runtime.GOOS, runtime.GOARCH, identity.Options{ChromeVersion: o.cfg.ChromeVersion})
}

func (o *Orchestrator) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := o.store.Profiles()
	if err != nil {
		web.Error(w, 500, err)
		return
	}
	if list == nil {
		list = []store.Profile{}
	}
	web.JSON(w, 200, list)
}

func (o *Orchestrator) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		ProxyLink string `json:"proxyStr"`
	}
	if !web.DecodeJSON(w, r, &req) {
		return
	}
	p, err := o.store.CreateProfile(req.Name, req.ProxyLink, o.newIdentity())
	if err != nil {
		web.Error(w, 400, err)
		return
	}
	web.JSON(w, 201, p)
}

func (o *Orchestrator) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := o.store.Profile(r.PathValue("id"))
	if err != nil {
		web.Error(w, profileStatus(err), err)
		return
	}
	web.JSON(w, 200, p)
}

func (o *Orchestrator) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             *string `json:"name"`
		ProxyLink        *string `json:"proxyStr"`
		PreProxyOverride *string `json:"preProxyOverride"`
		WatermarkStyle   *string `json:"watermarkStyle"`
		WebRTCMode       *string `json:"webrtcMode"`
	}
	if !web.DecodeJSON(w, r, &req) {
		return
	}
	var webrtc identity.WebRTCMode
	if req.WebRTCMode != nil {
		mode, err := identity.ParseWebRTCMode(*req.WebRTCMode)
		if err != nil {
			web.Error(w, 400, err)
			return
		}
		webrtc = mode
	}
	if req.Name != nil && *req.Name == "" {
		web.Error(w, 400, fmt.Errorf("profile name cannot be empty"))
		return
	}
	p, err := o.store.UpdateProfile(r.PathValue("id"), func(p *store.Profile) {
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.ProxyLink != nil {
			p.ProxyLink = *req.ProxyLink
		}
		if req.PreProxyOverride != nil {
			p.PreProxyOverride = *req.PreProxyOverride
		}
		if req.WatermarkStyle != nil {
			p.WatermarkStyle = payload.NormalizeWatermark(*req.WatermarkStyle)
		}
		if webrtc != "" {
			p.Identity.Protection.WebRTC = webrtc
		}
	})
	if err != nil {
		web.Error(w, profileStatus(err), err)
		return
	}
	web.JSON(w, 200, p)
}

// handleDeleteProfile closes a running session before removing the record.
func (o *Orchestrator) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o.Close(id)
	if err := o.store.DeleteProfile(id); err != nil {
		web.Error(w, profileStatus(err), err)
		return
	}
	web.JSON(w, 200, map[string]string{"status": "deleted", "id": id})
}

func (o *Orchestrator) handleRegenerateIdentity(w http.ResponseWriter, r *http.Request) {
	id := o.newIdentity()
	p, err := o.store.UpdateProfile(r.PathValue("id"), func(p *store.Profile) {
		// Keep the user's location and protection choices across a regeneration.
		id.Timezone = p.Identity.Timezone
		id.Language = p.Identity.Language
		id.Geolocation = p.Identity.Geolocation
		id.Protection = p.Identity.Protection
		p.Identity = id
	})
	if err != nil {
		web.Error(w, profileStatus(err), err)
		return
	}
	web.JSON(w, 200, p)
}

func (o *Orchestrator) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := o.store.Settings()
	if err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, st)
}

func (o *Orchestrator) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var st store.Settings
	if !web.DecodeJSON(w, r, &st) {
		return
	}
	if err := o.store.SaveSettings(st); err != nil {
		web.Error(w, 500, err)
		return
	}
	saved, err := o.store.Settings()
	if err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, saved)
}

func (o *Orchestrator) handleSelectNode(w http.ResponseWriter, r *http.Request) {
	if err := o.store.SelectNode(r.PathValue("id")); err != nil {
		web.Error(w, profileStatus(err), err)
		return
	}
	web.JSON(w, 200, map[string]string{"status": "ok", "selectedId": r.PathValue("id")})
}

func (o *Orchestrator) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == store.ManualGroup {
		web.Error(w, 400, fmt.Errorf("the manual group cannot be deleted"))
		return
	}
	if err := o.store.DeleteGroup(id); err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, map[string]string{"status": "deleted", "id": id})
}

func (o *Orchestrator) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	if o.fetcher == nil {
		web.Error(w, 503, fmt.Errorf("subscriptions not configured"))
		return
	}
	var req struct {
		Name          string `json:"name"`
		URL           string `json:"url"`
		IntervalHours int    `json:"interval"`
	}
	if !web.DecodeJSON(w, r, &req) {
		return
	}
	sub, err := o.fetcher.Add(r.Context(), req.Name, req.URL, req.IntervalHours)
	if err != nil {
		if sub.ID == "" {
			web.Error(w, 400, err)
			return
		}
		// Registered, but the first fetch failed; a later refresh may succeed.
		web.ErrorCode(w, 502, "fetch_failed", err.Error(), true, map[string]any{"subscription": sub})
		return
	}
	web.JSON(w, 201, sub)
}

func (o *Orchestrator) handleRefreshSubscription(w http.ResponseWriter, r *http.Request) {
	if o.fetcher == nil {
		web.Error(w, 503, fmt.Errorf("subscriptions not configured"))
		return
	}
	n, err := o.fetcher.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			web.Error(w, 404, err)
			return
		}
		web.ErrorCode(w, 502, "fetch_failed", err.Error(), true, nil)
		return
	}
	web.JSON(w, 200, map[string]any{"status": "ok", "nodes": n})
}
