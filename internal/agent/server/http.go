package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaberg/hass-byd-vehicle/internal/pkg/metrics"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

// HTTP serves probes, metrics and the vehicle API.
type HTTP struct {
	server  *http.Server
	options *options.HttpOptions
	backend Backend
}

var _ Server = (*HTTP)(nil)

func NewHTTP(opts *options.HttpOptions, backend Backend) *HTTP {
	s := &HTTP{options: opts, backend: backend}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router of all endpoints.
func (s *HTTP) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.timeout)
	api.HandleFunc("/vehicles", s.listVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{vin}", s.getVehicle).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{vin}/refresh", s.refresh).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{vin}/polling", s.setPolling).Methods(http.MethodPut)
	if s.options.EnableCommands {
		api.HandleFunc("/vehicles/{vin}/commands/{command}", s.execute).Methods(http.MethodPost)
	}
	api.HandleFunc("/vehicles/{vin}/commands/{command}", s.lastResult).Methods(http.MethodGet)
	return r
}

func (s *HTTP) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on http addr %s: %w", s.options.Addr, err)
	}
	log.Info("Starting HTTP Server", "addr", s.options.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *HTTP) timeout(next http.Handler) http.Handler {
	if s.options.Timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.options.Timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTP) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.backend.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTP) listVehicles(w http.ResponseWriter, _ *http.Request) {
	vehicles := s.backend.Vehicles()
	out := make([]poller.VehicleStatus, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, v.Status())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTP) getVehicle(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Status())
}

// refresh fetches the stream given by ?stream=, or both streams.
func (s *HTTP) refresh(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}

	kinds := poller.Streams
	if name := r.URL.Query().Get("stream"); name != "" {
		kind, ok := poller.ParseStreamKind(name)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown stream %q", name))
			return
		}
		kinds = []poller.StreamKind{kind}
	}

	var errs []error
	for _, kind := range kinds {
		if _, err := v.Refresh(r.Context(), kind); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v.Status())
}

type pollingRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *HTTP) setPolling(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	var req pollingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"enabled": true|false}`))
		return
	}
	v.SetPollingEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, v.Status())
}

type commandRequest struct {
	RequestID string         `json:"request_id"`
	Params    map[string]any `json:"params"`
}

func (s *HTTP) execute(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid command body: %w", err))
		return
	}

	res, err := v.Execute(r.Context(), provider.Command{
		Name:      provider.CommandName(mux.Vars(r)["command"]),
		RequestID: req.RequestID,
		Params:    req.Params,
	})
	switch {
	case res != nil:
		code := http.StatusOK
		if err != nil {
			code = statusFor(err)
		}
		writeJSON(w, code, res)
	case err != nil:
		writeError(w, statusFor(err), err)
	}
}

func (s *HTTP) lastResult(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	name := provider.CommandName(mux.Vars(r)["command"])
	res, ok := v.LastRemoteResult(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no result recorded for %s", name))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTP) vehicle(w http.ResponseWriter, r *http.Request) (Vehicle, bool) {
	vin := mux.Vars(r)["vin"]
	v, ok := s.backend.Vehicle(vin)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown vehicle %q", vin))
	}
	return v, ok
}

// statusFor maps coordinator and provider errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, poller.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, poller.ErrFetchInFlight):
		return http.StatusConflict
	case errors.Is(err, poller.ErrCommandUnsupported), errors.Is(err, provider.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, provider.ErrAuth), errors.Is(err, provider.ErrPinLockout):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, provider.ErrTransport):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	resp := errorResponse{Error: err.Error()}
	if k := provider.KindOf(err); k != provider.KindUnknown {
		resp.ErrorType = k.String()
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "error", err.Error())
	}
}
