package frontend

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/utils"
	"github.com/alpacahq/seriesdb/utils/log"
)

// Queryable is set once every catalog is open and the gRPC listener is up.
var Queryable atomic.Bool

// SyncStatusLister is the read side of the initial sync manager.
type SyncStatusLister interface {
	Statuses() []initsync.Status
}

type HeartbeatMessage struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	GitHash string   `json:"git_hash"`
	Uptime  string   `json:"uptime"`
	Syncing []string `json:"syncing,omitempty"`
}

type InitSyncMessage struct {
	initsync.Status
	Summary string `json:"summary"`
}

func NewUtilityAPIHandlers(startTime time.Time, syncs SyncStatusLister) *UtilityAPIHandlers {
	return &UtilityAPIHandlers{startTime: startTime, syncs: syncs}
}

type UtilityAPIHandlers struct {
	startTime time.Time
	syncs     SyncStatusLister
}

// Handler returns the mux serving heartbeat, initial sync status, metrics and profiling endpoints.
func (uah *UtilityAPIHandlers) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/heartbeat", uah.heartbeat)
	mux.HandleFunc("/initsync", uah.initSync)
	mux.Handle("/metrics", promhttp.Handler())

	// profiling
	mux.HandleFunc("/pprof/", pprof.Index)
	mux.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/pprof/profile", pprof.Profile)
	mux.HandleFunc("/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/pprof/trace", pprof.Trace)
	mux.Handle("/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.Handle("/pprof/block", pprof.Handler("block"))
	return mux
}

// NewServer returns an http server for the utility endpoints listening on url.
func (uah *UtilityAPIHandlers) NewServer(url string) *http.Server {
	return &http.Server{
		Addr:              url,
		Handler:           uah.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (uah *UtilityAPIHandlers) syncing() []string {
	var dbs []string
	for _, st := range uah.syncs.Statuses() {
		if !st.State.Terminal() && st.State != initsync.Unstarted {
			dbs = append(dbs, st.Database)
		}
	}
	return dbs
}

func (uah *UtilityAPIHandlers) heartbeat(rw http.ResponseWriter, _ *http.Request) {
	msg := HeartbeatMessage{
		Status:  "queryable",
		Version: utils.Tag,
		GitHash: utils.GitHash,
		Uptime:  time.Since(uah.startTime).String(),
		Syncing: uah.syncing(),
	}
	code := http.StatusOK
	if !Queryable.Load() {
		msg.Status = "not queryable"
		code = http.StatusServiceUnavailable
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(msg); err != nil {
		log.Error("Failed to write heartbeat message - Error: %v", err)
	}
}

func (uah *UtilityAPIHandlers) initSync(rw http.ResponseWriter, _ *http.Request) {
	statuses := uah.syncs.Statuses()
	msgs := make([]InitSyncMessage, 0, len(statuses))
	for _, st := range statuses {
		msgs = append(msgs, InitSyncMessage{Status: st, Summary: initsync.Summary(st)})
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(msgs); err != nil {
		log.Error("Failed to write initsync status - Error: %v", err)
	}
}
