package regengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uptrend-engine/internal/gateway"
	"uptrend-engine/internal/model"
	"uptrend-engine/internal/regime"
	sqlitestore "uptrend-engine/internal/store/sqlite"
)

// LatestLister lists the latest stored payload of every position.
type LatestLister interface {
	ListLatest(ctx context.Context) (map[string][]byte, error)
}

// JournalReader reads the payload journal of one position.
type JournalReader interface {
	ReadJournal(ctx context.Context, exchange, token string, tf, limit int) ([]sqlitestore.JournalEntry, error)
}

// API serves the regime query endpoints, the sweep trigger, metrics,
// health and the WebSocket stream.
type API struct {
	sweeper  *Sweeper
	state    model.StateStore
	latest   LatestLister
	journal  JournalReader
	hub      *gateway.Hub
	health   http.Handler
	gatherer prometheus.Gatherer
}

// NewAPI wires the HTTP handlers. journal and hub may be nil.
func NewAPI(sweeper *Sweeper, state model.StateStore, latest LatestLister, journal JournalReader,
	hub *gateway.Hub, health http.Handler, gatherer prometheus.Gatherer) *API {
	return &API{
		sweeper:  sweeper,
		state:    state,
		latest:   latest,
		journal:  journal,
		hub:      hub,
		health:   health,
		gatherer: gatherer,
	}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.Handle("/healthz", a.health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	if a.hub != nil {
		r.HandleFunc("/ws", a.hub.ServeWS)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/regime", a.ListRegimes).Methods("GET")
	api.HandleFunc("/regime/{exchange}/{token}/{tf:[0-9]+}", a.GetRegime).Methods("GET")
	api.HandleFunc("/regime/{exchange}/{token}/{tf:[0-9]+}/journal", a.GetJournal).Methods("GET")
	api.HandleFunc("/sweep", a.TriggerSweep).Methods("POST")
	api.HandleFunc("/missed", a.GetMissed).Methods("GET")

	return r
}

// ListRegimes handles GET /api/regime. ?state=S3 filters by state.
func (a *API) ListRegimes(w http.ResponseWriter, r *http.Request) {
	all, err := a.latest.ListLatest(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	want := r.URL.Query().Get("state")
	if want != "" {
		if _, ok := regime.ParseState(want); !ok {
			http.Error(w, "unknown state "+want, http.StatusBadRequest)
			return
		}
	}

	out := make(map[string]json.RawMessage, len(all))
	for key, data := range all {
		if want != "" {
			var head struct {
				State string `json:"state"`
			}
			if json.Unmarshal(data, &head) != nil || head.State != want {
				continue
			}
		}
		out[key] = data
	}
	respondJSON(w, http.StatusOK, out)
}

// GetRegime handles GET /api/regime/{exchange}/{token}/{tf}.
func (a *API) GetRegime(w http.ResponseWriter, r *http.Request) {
	p, ok := positionFromVars(w, r)
	if !ok {
		return
	}
	payload, meta, err := a.state.LoadState(r.Context(), p.RegimeKey())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if payload == nil {
		http.Error(w, "no regime for "+p.RegimeKey(), http.StatusNotFound)
		return
	}
	resp := struct {
		Payload json.RawMessage `json:"payload"`
		Meta    json.RawMessage `json:"meta,omitempty"`
	}{Payload: payload}
	if len(meta) > 0 {
		resp.Meta = meta
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetJournal handles GET /api/regime/{exchange}/{token}/{tf}/journal?limit=N.
func (a *API) GetJournal(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	p, ok := positionFromVars(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be in 1..1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := a.journal.ReadJournal(r.Context(), p.Exchange, p.Token, p.TF, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type entryOut struct {
		ID      int64           `json:"id"`
		TS      time.Time       `json:"ts"`
		State   string          `json:"state"`
		Payload json.RawMessage `json:"payload"`
	}
	out := make([]entryOut, len(entries))
	for i, e := range entries {
		out[i] = entryOut{ID: e.ID, TS: e.TS, State: e.State, Payload: e.Payload}
	}
	respondJSON(w, http.StatusOK, out)
}

// TriggerSweep handles POST /api/sweep. The sweep outlives the request.
func (a *API) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Minute)
	defer cancel()

	report, err := a.sweeper.Sweep(ctx, "api")
	switch {
	case errors.Is(err, ErrSweepRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// GetMissed handles GET /api/missed?channel=...&from=N&to=M for WebSocket
// gap backfill. X-Replay-Truncated marks a range the hub no longer holds in
// full.
func (a *API) GetMissed(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		http.Error(w, "stream disabled", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	channel := q.Get("channel")
	from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
	to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || errFrom != nil || errTo != nil || to < from {
		http.Error(w, "channel, from and to are required", http.StatusBadRequest)
		return
	}
	envs, complete := a.hub.GetReplayRange(channel, from, to)
	if !complete {
		w.Header().Set("X-Replay-Truncated", "true")
	}
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = e
	}
	respondJSON(w, http.StatusOK, out)
}

func positionFromVars(w http.ResponseWriter, r *http.Request) (model.Position, bool) {
	vars := mux.Vars(r)
	tf, err := strconv.Atoi(vars["tf"])
	if err != nil || tf <= 0 {
		http.Error(w, "tf must be a positive number of seconds", http.StatusBadRequest)
		return model.Position{}, false
	}
	return model.Position{Exchange: vars["exchange"], Token: vars["token"], TF: tf}, true
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
