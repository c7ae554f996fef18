package server

import (
	"encoding/json"
	"net/http"

	"github.com/clockpipe/clockpipe/internal/config"
	"github.com/clockpipe/clockpipe/internal/metrics"
)

type handlers struct {
	collector *metrics.Collector
	cfg       *config.Config
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	snap := h.collector.Snapshot()
	writeJSON(w, snap)
}

func (h *handlers) tables(w http.ResponseWriter, r *http.Request) {
	snap := h.collector.Snapshot()
	writeJSON(w, snap.Tables)
}

func (h *handlers) configHandler(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil {
		writeJSON(w, map[string]string{"error": "no config available"})
		return
	}
	// Redact credentials.
	redacted := struct {
		SourceType config.SourceKind     `json:"source_type"`
		Mongo      redactedMongo         `json:"mongodb,omitempty"`
		Sink       redactedSink          `json:"clickhouse"`
		Tables     []config.TableSelection `json:"tables"`
	}{
		SourceType: h.cfg.SourceType,
		Mongo:      redactedMongo{Database: h.cfg.Mongo.Database},
		Sink:       redactedSink{Addr: h.cfg.Sink.Addr, Database: h.cfg.Sink.Database},
		Tables:     h.cfg.Tables,
	}
	writeJSON(w, redacted)
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	entries := h.collector.Logs()
	writeJSON(w, entries)
}

type redactedMongo struct {
	Database string `json:"database"`
}

type redactedSink struct {
	Addr     string `json:"addr"`
	Database string `json:"database"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
