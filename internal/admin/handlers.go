// Package admin exposes the operator-facing HTTP surface: a health probe, a
// JSON diagnostics snapshot of the orchestrator's rolling counters, and a
// websocket stream of the same snapshot for a live dashboard.
package admin

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/websocket"

	orchlog "fateinfer/logging/orchestrator"
)

// StatsSource is satisfied by *orchestrator.Loop.
type StatsSource interface {
	Stats() orchlog.StatsPayload
}

// Config configures the admin handler.
type Config struct {
	Stats  StatsSource
	Logger *log.Logger

	// EnablePprofTrace mounts the stdlib net/http/pprof handlers under
	// /debug/pprof/. Off by default: profiling endpoints are for an
	// operator who asked for them, not something exposed by default.
	EnablePprofTrace bool
}

// NewHandler builds the admin mux: /health, /diagnostics, /ws/stats.
func NewHandler(cfg Config) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string               `json:"status"`
			ServerTime int64                `json:"serverTime"`
			Stats      orchlog.StatsPayload `json:"stats"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Stats:      cfg.Stats.Stats(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *nethttp.Request) bool { return true },
	}

	mux.HandleFunc("/ws/stats", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("admin: websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			data, err := json.Marshal(cfg.Stats.Stats())
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	})

	if cfg.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
