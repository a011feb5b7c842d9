package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pinchtab/veilgate/internal/events"
	"github.com/pinchtab/veilgate/internal/tunnel"
	"github.com/pinchtab/veilgate/internal/web"
)

var startedAt = time.Now()

func (o *Orchestrator) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", o.handleHealth)

	mux.HandleFunc("POST /profiles/{id}/launch", o.handleLaunch)
	mux.HandleFunc("POST /profiles/{id}/close", o.handleClose)
	mux.HandleFunc("GET /profiles/{id}/sessions", o.handleProfileSessions)
	mux.HandleFunc("GET /running", o.handleRunning)
	mux.HandleFunc("GET /sessions", o.handleSessions)

	mux.HandleFunc("POST /latency", o.handleLatency)
	mux.HandleFunc("POST /groups/{id}/latency", o.handleGroupLatency)

	mux.HandleFunc("GET /hostkey/pending", o.handleHostKeyPending)
	mux.HandleFunc("POST /hostkey/{requestId}", o.handleHostKeyDecision)

	mux.HandleFunc("GET /events", o.bus.HandleWS)
	mux.HandleFunc("GET /events/stream", o.bus.HandleSSE)

	o.registerProfileHandlers(mux)
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{
		"status":  "ok",
		"running": len(o.RunningIDs()),
		"uptime":  time.Since(startedAt).Round(time.Second).String(),
	})
}

func (o *Orchestrator) handleLaunch(w http.ResponseWriter, r *http.Request) {
	info, err := o.Launch(r.Context(), r.PathValue("id"))
	if err != nil {
		web.ErrorCode(w, classifyLaunchError(err), errorCode(err), err.Error(), false, nil)
		return
	}
	code := 201
	if info.Reused {
		code = 200
	}
	web.JSON(w, code, info)
}

func (o *Orchestrator) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	closed := o.Close(id)
	web.JSON(w, 200, map[string]any{"status": "ok", "id": id, "closed": closed})
}

func (o *Orchestrator) handleRunning(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{"running": o.RunningIDs()})
}

func (o *Orchestrator) handleSessions(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, o.Sessions())
}

func (o *Orchestrator) handleProfileSessions(w http.ResponseWriter, r *http.Request) {
	if o.journal == nil {
		web.Error(w, 503, fmt.Errorf("session journal not configured"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			web.Error(w, 400, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	recs, err := o.journal.ForProfile(r.PathValue("id"), limit)
	if err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, recs)
}

func (o *Orchestrator) handleLatency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Link string `json:"link"`
	}
	if !web.DecodeJSON(w, r, &req) {
		return
	}
	if req.Link == "" {
		web.Error(w, 400, fmt.Errorf("link required"))
		return
	}
	web.JSON(w, 200, o.TestLatency(r.Context(), req.Link))
}

func (o *Orchestrator) handleGroupLatency(w http.ResponseWriter, r *http.Request) {
	results, err := o.prober.MeasureGroup(r.Context(), o.store, r.PathValue("id"))
	if err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, results)
}

func (o *Orchestrator) handleHostKeyPending(w http.ResponseWriter, r *http.Request) {
	if o.broker == nil {
		web.JSON(w, 200, []tunnel.HostKeyRequest{})
		return
	}
	web.JSON(w, 200, o.broker.Pending())
}

func (o *Orchestrator) handleHostKeyDecision(w http.ResponseWriter, r *http.Request) {
	if o.broker == nil {
		web.Error(w, 503, fmt.Errorf("host key broker not configured"))
		return
	}
	var req struct {
		Choice string `json:"choice"`
	}
	if !web.DecodeJSON(w, r, &req) {
		return
	}
	choice, err := tunnel.ParseChoice(req.Choice)
	if err != nil {
		web.Error(w, 400, err)
		return
	}
	id := r.PathValue("requestId")
	if err := o.broker.Submit(id, choice); err != nil {
		if errors.Is(err, tunnel.ErrUnknownRequest) {
			web.ErrorCode(w, 404, "unknown_request", err.Error(), false, nil)
			return
		}
		web.Error(w, 500, err)
		return
	}
	o.bus.Publish(events.Event{
		Type: events.TypeHostKeyClosed,
		Data: map[string]string{"requestId": id, "choice": string(choice)},
	})
	web.JSON(w, 200, map[string]string{"status": "ok", "requestId": id, "choice": string(choice)})
}
