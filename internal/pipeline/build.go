package pipeline

import (
	"fmt"
	"os"

	"github.com/normanking/verity/internal/audit"
	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/bus"
	"github.com/normanking/verity/internal/classify"
	"github.com/normanking/verity/internal/config"
	"github.com/normanking/verity/internal/dispatch"
	"github.com/normanking/verity/internal/escalate"
	"github.com/normanking/verity/internal/fact"
	"github.com/normanking/verity/internal/goalie"
	"github.com/normanking/verity/internal/metrics"
	"github.com/normanking/verity/internal/route"
	"github.com/normanking/verity/internal/task"
)

// System is a fully assembled pipeline plus the supporting services that
// need explicit shutdown.
type System struct {
	Orchestrator *Orchestrator
	Registry     *backend.Registry
	Bus          *bus.Bus
	Queue        *escalate.MemoryQueue
	Store        *metrics.Store
	Collector    *metrics.Collector
	trail        *audit.Trail
}

// Build assembles the whole pipeline from configuration.
func Build(cfg *config.Config) (*System, error) {
	registry, err := BuildRegistry(cfg.Backends)
	if err != nil {
		return nil, err
	}

	trail, err := audit.New(cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}

	var store *metrics.Store
	if cfg.Metrics.Enabled {
		store, err = metrics.Open(cfg.Metrics.DBPath)
		if err != nil {
			trail.Close()
			return nil, fmt.Errorf("opening metrics store: %w", err)
		}
	}

	eventBus := bus.New()
	queue := escalate.NewMemoryQueue(cfg.Escalation.QueueSize)

	collector := metrics.NewCollector(eventBus)
	collector.Start()

	router := route.New(
		route.WithThresholds(cfg.Routing.LowThreshold, cfg.Routing.HighThreshold),
		route.WithCache(route.NewLRUCache(cfg.Routing.CacheSize, cfg.Routing.CacheTTL)),
	)

	orch := New(Options{
		Classifier: classify.New(registry, cfg.Routing.ClassifierTimeout),
		Router:     router,
		Dispatcher: dispatch.New(registry, dispatch.Config{
			FastTimeout:     cfg.Dispatch.FastTimeout,
			DeepTimeout:     cfg.Dispatch.DeepTimeout,
			EnsembleTimeout: cfg.Dispatch.EnsembleTimeout,
			EnsembleSize:    cfg.Dispatch.EnsembleSize,
			Quorum:          cfg.Dispatch.Quorum,
			Tolerance:       cfg.Dispatch.Tolerance,
		}, dispatch.WithBus(eventBus)),
		Validator: fact.New(registry, fact.Config{
			Tolerance:           cfg.Validation.Tolerance,
			EscalationThreshold: cfg.Validation.EscalationThreshold,
			InconclusivePenalty: cfg.Validation.InconclusivePenalty,
			FailPenalty:         cfg.Validation.FailPenalty,
			LogicTimeout:        cfg.Validation.LogicTimeout,
			CriticalTimeout:     cfg.Validation.CriticalTimeout,
		}),
		Protector: goalie.New(goalie.Config{
			Shrinkage:       shrinkageFromConfig(cfg.Protect.Shrinkage),
			NeutralBaseline: cfg.Protect.NeutralBaseline,
			AgreementFloor:  quorumRatio(cfg.Dispatch.Quorum, cfg.Dispatch.EnsembleSize),
			LegalTerms:      cfg.Protect.LegalTerms,
		}),
		Bus:   eventBus,
		Trail: trail,
		Queue: queue,
		Store: store,
	})

	return &System{
		Orchestrator: orch,
		Registry:     registry,
		Bus:          eventBus,
		Queue:        queue,
		Store:        store,
		Collector:    collector,
		trail:        trail,
	}, nil
}

// Close shuts down the system's services.
func (s *System) Close() error {
	var firstErr error
	s.Collector.Stop()
	if err := s.Bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.trail.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// BuildRegistry constructs HTTP backends from configuration and registers
// them by role.
func BuildRegistry(configs []config.BackendConfig) (*backend.Registry, error) {
	registry := backend.NewRegistry()
	for _, bc := range configs {
		role, err := parseRole(bc.Role)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.ID, err)
		}

		apiKey := ""
		if bc.APIKeyEnv != "" {
			apiKey = os.Getenv(bc.APIKeyEnv)
		}

		b := backend.NewHTTPBackend(backend.HTTPConfig{
			ID:       bc.ID,
			Role:     role,
			Endpoint: bc.Endpoint,
			APIKey:   apiKey,
			Model:    bc.Model,
			Timeout:  bc.Timeout,
			Profile: backend.Profile{
				CostPerCall:    bc.CostPerCall,
				TypicalLatency: bc.Timeout / 2,
				Local:          bc.Local,
			},
		})
		if err := registry.Register(b); err != nil {
			return nil, fmt.Errorf("registering backend %s: %w", bc.ID, err)
		}
	}
	return registry, nil
}

func parseRole(s string) (backend.Role, error) {
	switch backend.Role(s) {
	case backend.RoleClassifier, backend.RoleFastExecutor, backend.RoleDeepExecutor,
		backend.RoleEnsembleMember, backend.RoleMathValidator, backend.RoleLogicValidator,
		backend.RoleCriticalValidator:
		return backend.Role(s), nil
	}
	return "", fmt.Errorf("unknown backend role %q", s)
}

func shrinkageFromConfig(m map[string]float64) map[task.Severity]float64 {
	out := make(map[task.Severity]float64, len(m))
	for name, frac := range m {
		switch name {
		case "low":
			out[task.SeverityLow] = frac
		case "medium":
			out[task.SeverityMedium] = frac
		case "high":
			out[task.SeverityHigh] = frac
		case "critical":
			out[task.SeverityCritical] = frac
		}
	}
	return out
}

// quorumRatio is the agreement level the ensemble quorum implies; GOALIE
// treats anything below it as suspect.
func quorumRatio(quorum, size int) float64 {
	if size <= 0 {
		return 0.6
	}
	return float64(quorum) / float64(size)
}
