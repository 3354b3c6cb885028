package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Dependency comprueba una dependencia (almacén, broker, caché).
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
}

type ComponentHealth struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

type HealthReport struct {
	Status     string            `json:"status"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checkedAt"`
}

func (r HealthReport) Up() bool { return r.Status == StatusUp }

// HealthService ejecuta las comprobaciones en paralelo con un tiempo total acotado.
// Una comprobación que no responde a tiempo cuenta como DOWN; Check nunca se cuelga.
type HealthService struct {
	deps         []Dependency
	timeout      time.Duration
	checkTimeout time.Duration
	log          *zap.Logger
}

func NewHealthService(timeout, checkTimeout time.Duration, log *zap.Logger, deps ...Dependency) *HealthService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if checkTimeout <= 0 || checkTimeout > timeout {
		checkTimeout = 3 * time.Second
		if checkTimeout > timeout {
			checkTimeout = timeout
		}
	}
	return &HealthService{deps: deps, timeout: timeout, checkTimeout: checkTimeout, log: log}
}

func (h *HealthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var mu sync.Mutex
	results := make([]ComponentHealth, len(h.deps))
	for i, p := range h.deps {
		results[i] = ComponentHealth{Name: p.Name, Status: StatusDown, Error: "health check timed out"}
	}

	// errgroup.Group sin ctx: el fallo de una comprobación no cancela las demás.
	var g errgroup.Group
	for i, p := range h.deps {
		i, p := i, p
		g.Go(func() error {
			checkCtx, checkCancel := context.WithTimeout(ctx, h.checkTimeout)
			defer checkCancel()

			start := time.Now()
			err := p.Check(checkCtx)
			res := ComponentHealth{Name: p.Name, Status: StatusUp, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	components := append([]ComponentHealth(nil), results...)
	mu.Unlock()

	report := HealthReport{Status: StatusUp, Components: components, CheckedAt: time.Now().UTC()}
	for _, c := range components {
		if c.Status != StatusUp {
			report.Status = StatusDown
			h.log.Warn("⚠️ Dependencia no disponible", zap.String("component", c.Name), zap.String("error", c.Error))
		}
	}
	return report
}
