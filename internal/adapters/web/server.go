package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
)

// Status is the diagnostics snapshot served at /api/status.
type Status struct {
	Mode        string `json:"mode"`
	State       string `json:"state"`
	Channel     uint8  `json:"channel"`
	Networks    int    `json:"networks"`
	Handshakes  int    `json:"handshakes"`
	PMKIDs      int    `json:"pmkids"`
	PacketCount uint64 `json:"packet_count"`
	HealthPct   int    `json:"heap_health_pct"`
	Pressure    string `json:"heap_pressure"`
	MinFree     uint32 `json:"heap_min_free"`
	MinLargest  uint32 `json:"heap_min_largest"`
}

// StatusFunc supplies the current snapshot.
type StatusFunc func() Status

// ExclusionStore is the slice of the exclusion list the web surface needs.
type ExclusionStore interface {
	Add(bssid domain.BSSID, ssid string) bool
	Remove(bssid domain.BSSID)
	Len() int
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr      string
	Hub       *Hub
	Status    StatusFunc
	Catalog   ports.CaptureCatalog // may be nil
	Excluded  ExclusionStore       // may be nil
	PDFReport func() ([]byte, error) // may be nil

	srv *http.Server
}

// NewServer creates the diagnostics server.
func NewServer(addr string, hub *Hub, status StatusFunc) *Server {
	return &Server{Addr: addr, Hub: hub, Status: status}
}

// Run starts the hub and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.Hub.Start(ctx)

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/captures", s.handleCaptures).Methods(http.MethodGet)
	r.HandleFunc("/api/exclusions", s.handleAddExclusion).Methods(http.MethodPost)
	r.HandleFunc("/api/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.Hub.ServeWS)
	r.Handle("/metrics", promhttp.Handler())

	instrumented := otelhttp.NewHandler(r, "snuffle-server")

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           instrumented,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[WEB] Diagnostics server on %s", s.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Status())
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if s.Catalog == nil {
		http.Error(w, "catalog unavailable", http.StatusServiceUnavailable)
		return
	}
	recs, err := s.Catalog.ListCaptures(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

type exclusionRequest struct {
	BSSID string `json:"bssid"`
	SSID  string `json:"ssid"`
}

func (s *Server) handleAddExclusion(w http.ResponseWriter, r *http.Request) {
	if s.Excluded == nil {
		http.Error(w, "exclusion list unavailable", http.StatusServiceUnavailable)
		return
	}
	var req exclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	bssid, err := domain.ParseBSSID(req.BSSID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.Excluded.Add(bssid, req.SSID) {
		http.Error(w, "exclusion list full", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.PDFReport == nil {
		http.Error(w, "reporting unavailable", http.StatusServiceUnavailable)
		return
	}
	data, err := s.PDFReport()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=session-report.pdf")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WEB] Encode failed: %v", err)
	}
}
