// Package api exposes the reporting and control surface: session status,
// latency records, live measurement streaming and config editing.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/config"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/frame"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/latency"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/logger"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/makcu"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/pipeline"
)

// Server represents the HTTP reporting server
type Server struct {
	router     *mux.Router
	pipe       *pipeline.Pipeline
	recorder   *latency.Recorder
	dispatcher *makcu.Dispatcher
	configMgr  *config.Manager
	store      *config.Store
	upgrader   websocket.Upgrader

	srv *http.Server
}

// NewServer creates a new reporting server over a running pipeline.
func NewServer(pipe *pipeline.Pipeline, recorder *latency.Recorder,
	dispatcher *makcu.Dispatcher, configMgr *config.Manager, store *config.Store) *Server {

	s := &Server{
		router:     mux.NewRouter(),
		pipe:       pipe,
		recorder:   recorder,
		dispatcher: dispatcher,
		configMgr:  configMgr,
		store:      store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Measurement
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/records", s.handleRecords).Methods("GET")
	api.HandleFunc("/records/stream", s.handleRecordStream)
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Detection region preview
	api.HandleFunc("/preview", s.handlePreview).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Device discovery
	api.HandleFunc("/ports", s.handlePorts).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the HTTP server and blocks until it shuts down.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().
		Str("addr", addr).
		Msg("Reporting server listening")

	s.srv = &http.Server{Addr: addr, Handler: s.enableCORS(s.router)}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	total, failed := s.dispatcher.Stats()
	resp := struct {
		Pipeline     pipeline.Status `json:"pipeline"`
		Latency      latency.Stats   `json:"latency"`
		TotalClicks  uint64          `json:"total_clicks"`
		FailedClicks uint64          `json:"failed_clicks"`
		ChannelOpen  bool            `json:"channel_open"`
	}{
		Pipeline:     s.pipe.Status(),
		Latency:      s.recorder.Stats(),
		TotalClicks:  total,
		FailedClicks: failed,
		ChannelOpen:  !s.dispatcher.Closed(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// recordView pairs a raw record with its computed stage intervals.
type recordView struct {
	latency.Record
	Deltas latency.Deltas `json:"deltas"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	recs := s.recorder.Recent(n)
	views := make([]recordView, len(recs))
	for i, rec := range recs {
		views[i] = recordView{Record: rec, Deltas: rec.Deltas()}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.recorder.Stats())
}

func (s *Server) handleRecordStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.recorder.Subscribe()
	defer s.recorder.Unsubscribe(updates)

	// Read pump: the client never sends data, but reading is how a
	// disconnect is noticed while the record stream is quiet.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send recent history first so a fresh dashboard is not empty.
	for _, rec := range s.recorder.Recent(32) {
		if err := conn.WriteJSON(recordView{Record: rec, Deltas: rec.Deltas()}); err != nil {
			return
		}
	}

	for {
		select {
		case rec := <-updates:
			if err := conn.WriteJSON(recordView{Record: rec, Deltas: rec.Deltas()}); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed, dropping subscriber")
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	region := s.pipe.LastRegion()
	if region == nil {
		http.Error(w, "no frame processed yet", http.StatusNotFound)
		return
	}

	img := toImage(region)

	// Optional ?width= downscale keeps dashboard polling cheap.
	if v := r.URL.Query().Get("width"); v != "" {
		width, err := strconv.Atoi(v)
		if err != nil || width < 1 {
			http.Error(w, "invalid width", http.StatusBadRequest)
			return
		}
		if width < img.Bounds().Dx() {
			height := img.Bounds().Dy() * width / img.Bounds().Dx()
			if height < 1 {
				height = 1
			}
			scaled := image.NewRGBA(image.Rect(0, 0, width, height))
			draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
			img = scaled
		}
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	jpeg.Encode(w, img, &jpeg.Options{Quality: 85})
}

// toImage converts a pipeline frame into a drawable image.
func toImage(f *frame.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b := f.At(x, y)
			off := img.PixOffset(x, y)
			img.Pix[off] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 0xff
		}
	}
	return img
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	// Decode over the current config so a partial body edits just the
	// fields it names.
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Publish to the processing loop; it picks the snapshot up on the
	// next frame.
	s.store.Replace(cfg)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := makcu.ListPorts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"ports": ports})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
