package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/statistics"
)

const maxCommandBody = 64 << 10

// AdapterSummary is one entry of the adapter listing.
type AdapterSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Running     bool     `json:"running"`
	Healthy     bool     `json:"healthy"`
	ErrorCount  int      `json:"error_count"`
	LastError   string   `json:"last_error,omitempty"`
	Uptime      string   `json:"uptime"`
	Commands    []string `json:"commands,omitempty"`
}

// CommandResult is the response of a successful command.
type CommandResult struct {
	Adapter  string `json:"adapter"`
	Command  string `json:"command"`
	Message  string `json:"message"`
	Duration string `json:"duration"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *Admin) registerRoutes() {
	a.handle("GET /api/inputs", a.listHandler(a.inputs, a.inputOrder, a.inputCommands))
	a.handle("GET /api/inputs/{name}/status", a.statusHandler(a.inputs))
	a.handle("POST /api/inputs/{name}/{command}", a.commandHandler(a.inputs))

	a.handle("GET /api/outputs", a.listHandler(a.outputs, a.outputOrder, a.outputCommands))
	a.handle("GET /api/outputs/{name}/status", a.statusHandler(a.outputs))
	a.handle("POST /api/outputs/{name}/{command}", a.commandHandler(a.outputs))

	a.handle("GET /api/statistics", a.handleStatistics)
	a.handle("GET /api/statistics/{source}", a.handleSourceStatistics)

	a.handle("GET /health", a.handleHealth)
	a.handle("GET /healthz", a.handleLiveness)
	a.handle("GET /openapi.json", a.handleOpenAPI)

	if a.monitor != nil {
		a.mux.Handle(a.monitor.Path(), a.monitor)
	}
}

// handle registers a route wrapped with request metrics.
func (a *Admin) handle(pattern string, h http.HandlerFunc) {
	if a.metrics == nil {
		a.mux.HandleFunc(pattern, h)
		return
	}
	a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)
		a.metrics.observe(pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *Admin) listHandler(adapters map[string]Adapter, order []string, commands []string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := make([]AdapterSummary, 0, len(order))
		for _, name := range order {
			ad := adapters[name]
			h := ad.Health()
			out = append(out, AdapterSummary{
				Name:        name,
				Description: ad.Meta().Description,
				Running:     ad.Running(),
				Healthy:     h.Healthy,
				ErrorCount:  h.ErrorCount,
				LastError:   h.LastError,
				Uptime:      h.Uptime.Truncate(time.Second).String(),
				Commands:    commands,
			})
		}
		a.writeJSON(w, http.StatusOK, out)
	}
}

func (a *Admin) statusHandler(adapters map[string]Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ad, ok := a.lookup(w, adapters, r.PathValue("name"))
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, ad.Status())
	}
}

func (a *Admin) commandHandler(adapters map[string]Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ad, ok := a.lookup(w, adapters, r.PathValue("name"))
		if !ok {
			return
		}
		command := r.PathValue("command")

		args, err := commandArgs(r)
		if err != nil {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.CommandTimeout)
		defer cancel()

		start := time.Now()
		message, err := ad.Execute(ctx, command, args)
		if err != nil {
			status := commandStatus(err)
			a.logger.Warn("Administrative command failed",
				"adapter", ad.Name(), "command", command, "status", status, "error", err)
			a.writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		a.logger.Info("Administrative command executed", "adapter", ad.Name(), "command", command)
		a.writeJSON(w, http.StatusOK, CommandResult{
			Adapter:  ad.Name(),
			Command:  command,
			Message:  message,
			Duration: time.Since(start).String(),
		})
	}
}

// commandArgs merges query parameters with an optional JSON object body.
func commandArgs(r *http.Request) (map[string]string, error) {
	args := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}
	if r.Body == nil {
		return args, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return args, nil
	}
	var fromBody map[string]string
	if err := json.Unmarshal(body, &fromBody); err != nil {
		return nil, errors.WrapInvalid(err, "Admin", "commandArgs", "decode arguments")
	}
	for k, v := range fromBody {
		args[k] = v
	}
	return args, nil
}

// commandStatus maps an adapter error onto an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, errors.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, errors.ErrNoConfiguration), errors.Is(err, errors.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrCommandsNotSupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errors.ErrNotStarted), errors.Is(err, errors.ErrChannelNotReady),
		errors.Is(err, errors.ErrNoConnection):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *Admin) lookup(w http.ResponseWriter, adapters map[string]Adapter, name string) (Adapter, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid adapter name"})
		return nil, false
	}
	if ad, ok := adapters[name]; ok {
		return ad, true
	}
	for n, ad := range adapters {
		if strings.EqualFold(n, name) {
			return ad, true
		}
	}
	a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "adapter " + name + " not found"})
	return nil, false
}

func (a *Admin) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	if a.statistics == nil {
		a.writeJSON(w, http.StatusOK, []statistics.Snapshot{})
		return
	}
	snapshots := a.statistics.Snapshots()
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Source < snapshots[j].Source })
	a.writeJSON(w, http.StatusOK, snapshots)
}

func (a *Admin) handleSourceStatistics(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if a.statistics != nil {
		if s, ok := a.statistics.Snapshot(source); ok {
			a.writeJSON(w, http.StatusOK, s)
			return
		}
	}
	a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no statistics for " + source})
}

func (a *Admin) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := a.SystemHealth()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	a.writeJSON(w, code, status)
}

func (a *Admin) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a *Admin) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	a.writeJSON(w, http.StatusOK, a.OpenAPI())
}

func (a *Admin) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}
