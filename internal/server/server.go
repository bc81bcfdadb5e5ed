// Package server serves the experiment map and pushes analysis results to
// browsers over WebSocket. Changing the alignment rates through the config
// API re-runs the analysis and broadcasts the new result; changing an input
// path reloads the inputs first.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/config"
	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
	"github.com/SIOJaffeLab/LogProcessor/internal/logging"
	"github.com/SIOJaffeLab/LogProcessor/internal/metrics"
	"github.com/SIOJaffeLab/LogProcessor/internal/pipeline"
	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

const maxConfigBody = 1 << 20

// Server holds the ingested inputs and the latest analysis frame.
type Server struct {
	cfg     *config.Config
	inputs  *pipeline.Inputs
	webFS   fs.FS
	logger  logging.Logger
	metrics *metrics.Collector

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// serialises recomputes
	runMu sync.Mutex

	frameMu sync.RWMutex
	frame   []byte
	seq     uint64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Seq         uint64                 `json:"seq"` // increments on every recompute
	Rates       analysis.Rates         `json:"rates"`
	Boat        track.Track            `json:"boat"`
	Buoy        track.Track            `json:"buoy"`
	Good        []analysis.Observation `json:"good"`
	Failed      []analysis.Observation `json:"failed"`
	Skipped     int                    `json:"skipped"`
	Summary     *analysis.Summary      `json:"summary,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Diagnostics []string               `json:"diagnostics,omitempty"`
	Stamp       int64                  `json:"stamp"` // Unix ms
}

// New creates a new Server. metrics may be nil.
func New(cfg *config.Config, in *pipeline.Inputs, webFS fs.FS, logger logging.Logger, m *metrics.Collector) *Server {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Server{
		cfg:     cfg,
		inputs:  in,
		webFS:   webFS,
		logger:  logger.With(logging.Component("server")),
		metrics: m,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/result", s.handleResult)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run computes the first frame and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Recompute(ctx); err != nil {
		return err
	}

	addr := s.cfg.ListenAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeClients()
	}()

	s.logger.Info(ctx, "listening", logging.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Recompute runs the analysis with the configured rates and broadcasts the
// resulting frame. An empty aggregate still produces a frame, carrying the
// error text instead of a summary.
func (s *Server) Recompute(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	// Load-time events were already counted when the inputs were read.
	collector := diag.NewCollector(nil)
	for _, e := range s.inputs.Diagnostics {
		collector.Report(e)
	}
	sink := diag.Multi(collector, s.metrics)
	rates := s.cfg.Rates()

	start := time.Now()
	res, err := pipeline.Analyze(ctx, s.inputs, rates, sink, s.logger)
	if err != nil {
		return err
	}
	s.metrics.ObserveRun(res, time.Since(start))

	frame := Frame{
		Rates:       res.Rates,
		Boat:        s.inputs.Boat,
		Buoy:        s.inputs.Buoy,
		Good:        res.Good(),
		Failed:      res.Failed(),
		Skipped:     res.Skipped,
		Diagnostics: collector.Summary(),
		Stamp:       time.Now().UnixMilli(),
	}
	if summary, err := res.Summary(); err != nil {
		frame.Error = err.Error()
		s.logger.Warn(ctx, "no summary", logging.Err(err))
	} else {
		frame.Summary = &summary
	}

	s.frameMu.Lock()
	s.seq++
	frame.Seq = s.seq
	data, err := json.Marshal(frame)
	if err != nil {
		s.frameMu.Unlock()
		return err
	}
	s.frame = data
	s.frameMu.Unlock()

	s.broadcast(data)
	return nil
}

// reload reads every input again from the configured paths.
func (s *Server) reload(ctx context.Context) error {
	in, err := pipeline.Load(ctx, s.cfg, s.metrics, s.logger)
	if err != nil {
		return err
	}
	s.runMu.Lock()
	s.inputs = in
	s.runMu.Unlock()
	return nil
}

func (s *Server) currentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "ws upgrade", logging.Err(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	// Send the current frame before registering so it arrives first
	if data := s.currentFrame(); data != nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info(r.Context(), "ws client connected", logging.Int("clients", n))

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive and close detection)
	go func() {
		defer s.removeClient(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	close(c.send)
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info(context.Background(), "ws client disconnected", logging.Int("clients", n))
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		prev, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		rates := s.cfg.Rates()
		boat, buoy, rng := s.cfg.Inputs()
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		nextBoat, nextBuoy, nextRng := s.cfg.Inputs()
		reload := nextBoat != boat || nextBuoy != buoy || nextRng != rng
		if reload {
			s.logger.Info(r.Context(), "inputs changed, reloading")
			if err := s.reload(r.Context()); err != nil {
				// Inputs that cannot be read are not kept in the config.
				if rerr := s.cfg.UpdateFromJSON(prev); rerr != nil {
					s.logger.Error(r.Context(), "config restore failed", logging.Err(rerr))
				}
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if s.cfg.Path() != "" {
			if err := s.cfg.Save(); err != nil {
				s.logger.Warn(r.Context(), "config save failed", logging.Err(err))
			}
		}

		rerun := reload || s.cfg.Rates() != rates
		if rerun {
			s.logger.Info(r.Context(), "re-running",
				logging.Float("boat_rate", s.cfg.Rates().Boat),
				logging.Float("buoy_rate", s.cfg.Rates().Buoy))
			if err := s.Recompute(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "rerun": rerun})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data := s.currentFrame()
	if data == nil {
		http.Error(w, "no result yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.Copy(w, bytes.NewReader(data))
}

func (s *Server) broadcast(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
