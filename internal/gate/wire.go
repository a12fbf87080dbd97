package gate

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/brightboard/safety-gate/internal/audit"
	"github.com/brightboard/safety-gate/internal/classifier"
	"github.com/brightboard/safety-gate/internal/concern"
	"github.com/brightboard/safety-gate/internal/config"
	"github.com/brightboard/safety-gate/internal/effects"
	"github.com/brightboard/safety-gate/internal/history"
	"github.com/brightboard/safety-gate/internal/roster"
	"github.com/brightboard/safety-gate/internal/rules"
)

// Service is a Gate together with the stores and background workers it
// runs on in production.
type Service struct {
	Gate       *Gate
	Rules      *rules.Holder
	Concerns   *concern.Queue
	Audit      *audit.Logger
	Directory  *roster.CachedDirectory
	Dispatcher *effects.Dispatcher

	redriver   *effects.Redriver
	rulesPath  string
	watchRules bool
	classified bool
}

// Wire builds a Service on Postgres and Redis from cfg. events may be nil.
func Wire(cfg config.Config, db *sql.DB, rdb *redis.Client, events EventPublisher) (*Service, error) {
	rs, err := rules.LoadOrDefault(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	holder := rules.NewHolder(rs)

	// Without a URL every student message is unavailable and handled by the
	// force-review policy.
	var backend classifier.Classifier
	if cfg.ClassifierURL != "" {
		hc, err := classifier.NewHTTPClassifier(classifier.HTTPOptions{
			BaseURL: cfg.ClassifierURL,
			APIKey:  cfg.ClassifierAPIKey,
			Model:   cfg.ClassifierModel,
			Timeout: 2 * cfg.ClassifierTimeout,
		})
		if err != nil {
			return nil, err
		}
		backend = hc
	} else {
		log.Printf("[gate] WARN CLASSIFIER_URL not set, classifier disabled")
	}

	directory := roster.NewCachedDirectory(roster.NewPostgresDirectory(db), rdb, cfg.RosterCacheTTL)
	hist := history.NewRedisStore(rdb, history.DefaultCapacity, cfg.HistoryTTL)
	queue := concern.NewQueue(concern.NewPostgresStore(db), directory, hist)
	auditLog := audit.NewLogger(audit.NewPostgresStore(db), queue)

	dead := effects.NewRedisDeadLetter(rdb)
	dispatcher := effects.NewDispatcher(cfg.Effects, dead)
	redriver, err := effects.NewRedriver(dispatcher, dead, cfg.RedriveSchedule)
	if err != nil {
		return nil, err
	}

	g := New(Deps{
		Rules:      holder,
		Classifier: classifier.NewGuard(backend, cfg.ClassifierTimeout),
		Policy:     cfg.Policy,
		Roster:     directory,
		Concerns:   queue,
		Audit:      auditLog,
		History:    hist,
		Events:     events,
		Effects:    dispatcher,
		Locale:     cfg.Locale,
	})

	return &Service{
		Gate:       g,
		Rules:      holder,
		Concerns:   queue,
		Audit:      auditLog,
		Directory:  directory,
		Dispatcher: dispatcher,
		redriver:   redriver,
		rulesPath:  cfg.RulesPath,
		watchRules: cfg.RulesWatch && cfg.RulesPath != "",
		classified: backend != nil,
	}, nil
}

// Start launches the side-effect workers, the redrive schedule and, when
// configured, the rule file watcher. They stop with ctx or Stop.
func (s *Service) Start(ctx context.Context) error {
	s.Dispatcher.Start(ctx)
	if err := s.redriver.Start(ctx); err != nil {
		return fmt.Errorf("gate: start redriver: %w", err)
	}
	if s.watchRules {
		go func() {
			if err := rules.NewWatcher(s.rulesPath, s.Rules).Run(ctx); err != nil {
				log.Printf("[rules] watcher stopped: %v", err)
			}
		}()
	}
	return nil
}

// Stop drains queued side effects. Call after the request sources stop.
func (s *Service) Stop() {
	s.redriver.Stop()
	s.Dispatcher.Stop()
}

// Classified reports whether a classifier backend is configured.
func (s *Service) Classified() bool {
	return s.classified
}
