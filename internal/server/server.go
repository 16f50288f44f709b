package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/trialsync/internal/config"
	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/routing"
	"github.com/audiolibrelab/trialsync/internal/service"
)

// Server is a read-only monitoring endpoint for a running trial station.
// It never plays, records or talks to the sensor.
type Server struct {
	service       service.Service
	configFile    string
	activeProfile string
	port          string
}

// StatusResponse represents the response for status requests
type StatusResponse struct {
	Status        service.Status `json:"status" yaml:"status"`
	ActiveProfile string         `json:"active_profile" yaml:"active_profile"`
	Simulate      bool           `json:"simulate" yaml:"simulate"`
	OutputDir     string         `json:"output_directory" yaml:"output_directory"`
	Stimuli       []string       `json:"stimuli" yaml:"stimuli"`
}

// LineInfo is one row of the line table as served to clients.
type LineInfo struct {
	Line    int    `json:"line"`
	Device  int    `json:"device"`
	Channel int    `json:"channel"`
	Name    string `json:"device_name,omitempty"`
}

// LinesResponse represents the response for line table requests
type LinesResponse struct {
	Source string     `json:"source"`
	Lines  []LineInfo `json:"lines"`
}

// OrderResponse represents the response for order requests
type OrderResponse struct {
	Items  int   `json:"items"`
	Trials int   `json:"trials"`
	Order  []int `json:"order"`
}

// New creates a server around an existing service.
func New(svc service.Service, configFile, activeProfile, port string) *Server {
	return &Server{
		service:       svc,
		configFile:    configFile,
		activeProfile: activeProfile,
		port:          port,
	}
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/lines", s.handleLines)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/order", s.handleOrder)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.Handle("/metrics", s.service.Metrics().Handler())
	return mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting TrialSync status server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("Stopping status server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>TrialSync</title></head>
<body>
<h1>TrialSync</h1>
<ul>
<li><a href="/status">status</a> (<a href="/status?format=yaml">yaml</a>)</li>
<li><a href="/lines">line table</a></li>
<li><a href="/devices">devices</a> (<a href="/devices?candidates=true">candidates</a>)</li>
<li><a href="/order?items=4&amp;trials=12">sample order</a></li>
<li><a href="/config/profiles">profiles</a></li>
<li><a href="/metrics">metrics</a></li>
</ul>
</body>
</html>
`

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	cfg := s.service.GetConfig()
	response := StatusResponse{
		Status:        s.service.GetStatus(),
		ActiveProfile: s.activeProfile,
		Simulate:      cfg.Simulate,
		OutputDir:     cfg.Output.Directory,
	}
	for _, st := range cfg.Stimuli {
		response.Stimuli = append(response.Stimuli, st.Name)
	}

	if r.URL.Query().Get("format") == "yaml" {
		out, err := yaml.Marshal(response)
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to render status", "error", err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(out)
		return
	}
	s.sendJSON(w, response)
}

func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	mapping, err := s.service.Lines()
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "endpoint", "/lines")
		return
	}

	names := map[int]string{}
	if devices, err := s.service.Devices(); err == nil {
		for _, d := range devices {
			names[d.Index] = d.Name
		}
	}

	response := LinesResponse{Source: mapping.Source()}
	for _, e := range mapping.Entries() {
		response.Lines = append(response.Lines, LineInfo{
			Line:    e.Line,
			Device:  e.Device,
			Channel: e.Channel,
			Name:    names[e.Device],
		})
	}
	s.sendJSON(w, response)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	var (
		devices []routing.DeviceInfo
		err     error
	)
	if candidates, _ := strconv.ParseBool(r.URL.Query().Get("candidates")); candidates {
		devices, err = s.service.Candidates()
	} else {
		devices, err = s.service.Devices()
	}
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "endpoint", "/devices")
		return
	}
	if devices == nil {
		devices = []routing.DeviceInfo{}
	}
	s.sendJSON(w, devices)
}

// Preview limits for /order. A real block is a few hundred trials.
const (
	maxOrderItems  = 1000
	maxOrderTrials = 10000
)

// handleOrder previews a balanced order; it does not start anything.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	q := r.URL.Query()
	items, err := strconv.Atoi(q.Get("items"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "items must be an integer", "items", q.Get("items"))
		return
	}
	trials := items
	if v := q.Get("trials"); v != "" {
		if trials, err = strconv.Atoi(v); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "trials must be an integer", "trials", v)
			return
		}
	}
	if items > maxOrderItems {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("items must be <= %d", maxOrderItems), "items", items)
		return
	}
	if trials > maxOrderTrials {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("trials must be <= %d", maxOrderTrials), "trials", trials)
		return
	}

	order, err := s.service.GenerateBalancedOrder(items, trials)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "items", items, "trials", trials)
		return
	}
	s.sendJSON(w, OrderResponse{Items: items, Trials: trials, Order: order})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.configFile == "" {
		s.sendJSON(w, map[string]interface{}{"profiles": []string{}, "active": s.activeProfile})
		return
	}

	root, err := config.ValidateConfigurationFormat(s.configFile)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to read configuration", "error", err)
		return
	}
	profiles := make([]string, 0, len(root.Configs))
	for name := range root.Configs {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)

	s.sendJSON(w, map[string]interface{}{
		"profiles": profiles,
		"active":   s.activeProfile,
	})
}

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "method", r.Method, "path", r.URL.Path)
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// statusFor maps a fault kind to an HTTP status.
func statusFor(err error) int {
	switch faults.KindOf(err) {
	case faults.KindInvalidTrialCount, faults.KindUnmappedLine:
		return http.StatusBadRequest
	case faults.KindDeviceUnavailable, faults.KindConnection, faults.KindClosed:
		return http.StatusServiceUnavailable
	case faults.KindBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
