package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole probe fan-out.
const healthCheckTimeout = 2 * time.Second

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type probeResult struct {
	name string
	err  error
}

// HandleHealth runs every registered probe concurrently and answers 200 when
// all pass, 503 otherwise. Probes still running at the deadline are reported
// as timed out.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}

	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	// Buffered so late probes never block after we stop listening.
	results := make(chan probeResult, len(s.HealthProbes))
	for _, probe := range s.HealthProbes {
		go func(p HealthProbe) {
			results <- probeResult{name: p.Name(), err: runProbe(ctx, p)}
		}(probe)
	}

	resp.Components = make(map[string]componentStatus, len(s.HealthProbes))
	for _, p := range s.HealthProbes {
		resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
	}

collect:
	for range s.HealthProbes {
		select {
		case res := <-results:
			if res.err != nil {
				resp.Components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
			} else {
				resp.Components[res.name] = componentStatus{Status: "healthy"}
			}
		case <-ctx.Done():
			break collect
		}
	}

	status := http.StatusOK
	for _, c := range resp.Components {
		if c.Status != "healthy" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			break
		}
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
