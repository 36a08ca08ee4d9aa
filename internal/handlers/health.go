package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"coral-lat/internal/contextutil"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// VectorPinger is satisfied by *vectorstore.QdrantStore.
type VectorPinger interface {
	Ping(ctx context.Context) error
}

// Check results.
const (
	checkOK       = "ok"
	checkError    = "error"
	checkDisabled = "disabled"
)

type probe struct {
	name  string
	check func(ctx context.Context) error // nil reports the probe as disabled
}

// HealthHandler reports whether run history, the image index and the project
// directory are usable.
type HealthHandler struct {
	probes  []probe
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. vectorStore may be nil when the image
// index is disabled, and projectDir empty to skip the directory check.
func NewHealthHandler(db Pinger, vectorStore VectorPinger, projectDir string) *HealthHandler {
	h := &HealthHandler{timeout: 5 * time.Second}
	h.probes = append(h.probes, probe{name: "database", check: db.PingContext})

	vs := probe{name: "vector_store"}
	if vectorStore != nil {
		vs.check = vectorStore.Ping
	}
	h.probes = append(h.probes, vs)

	if projectDir != "" {
		h.probes = append(h.probes, probe{name: "project_dir", check: func(context.Context) error {
			return checkDir(projectDir)
		}})
	}
	return h
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string            `json:"status"` // healthy or unhealthy
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Issues    []string          `json:"issues,omitempty"`
}

// ServeHTTP handles GET /api/health with 200 when every enabled probe passes and
// 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]string, len(h.probes)),
	}
	for _, p := range h.probes {
		if p.check == nil {
			resp.Checks[p.name] = checkDisabled
			continue
		}
		if err := p.check(checkCtx); err != nil {
			logger.WarnContext(ctx, "health check failed", "check", p.name, "error", err)
			resp.Checks[p.name] = checkError
			resp.Issues = append(resp.Issues, p.name+"_unavailable")
			continue
		}
		resp.Checks[p.name] = checkOK
	}

	status := http.StatusOK
	if len(resp.Issues) > 0 {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, ctx, status, resp)
}

// checkDir verifies that builds can write archives into dir.
func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
