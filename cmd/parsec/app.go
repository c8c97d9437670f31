package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codefionn/parsec/internal/approval"
	"github.com/codefionn/parsec/internal/assembler"
	"github.com/codefionn/parsec/internal/classifier"
	"github.com/codefionn/parsec/internal/cli"
	"github.com/codefionn/parsec/internal/config"
	"github.com/codefionn/parsec/internal/execution"
	"github.com/codefionn/parsec/internal/gateway"
	"github.com/codefionn/parsec/internal/llm"
	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/manager"
	"github.com/codefionn/parsec/internal/orchestrator"
	"github.com/codefionn/parsec/internal/provider"
	"github.com/codefionn/parsec/internal/session"
	"github.com/codefionn/parsec/internal/store"
)

// classifierThreshold is the heuristic confidence below which the model is asked
const classifierThreshold = 0.6

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	return st, nil
}

func retentionPolicy(cfg *config.Config) store.RetentionPolicy {
	return store.PolicyFromDays(cfg.Storage.RetentionDays, cfg.Storage.ConversationRetentionDays, cfg.Storage.MaxSessions)
}

// newManager wires every component from the configuration
func newManager(ctx context.Context, cfg *config.Config, st store.Store) (*manager.Manager, error) {
	registry := provider.NewRegistry()
	name, err := registry.Select(providerID, cfg)
	if err != nil {
		return nil, err
	}
	if modelID != "" {
		cfg.ProviderSettings(name).Model = modelID
	}
	model, err := registry.Create(ctx, name, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("using provider %s with model %s (token limit %d)", model.Name(), model.Client().GetModelName(), model.TokenLimit())

	gw := gateway.New(model, time.Duration(cfg.Model.TimeoutSeconds)*time.Second)
	asm := assembler.New(assembler.Options{
		PlanningBudgetTokens: cfg.Context.PlanningBudgetTokens,
		StepBudgetTokens:     cfg.Context.StepBudgetTokens,
		RecentExecutions:     cfg.Context.RecentExecutions,
		NoteReserveTokens:    cfg.Context.NoteReserveTokens,
		Counter:              llm.NewTiktokenCounter(model.Client().GetModelName()),
	})
	gate, err := approval.NewGate(cfg.Safety.DestructivePatterns)
	if err != nil {
		return nil, fmt.Errorf("safety patterns: %w", err)
	}
	coord := execution.NewCoordinator(
		execution.NewShellExecutor(cfg.Execution.MaxOutputBytes),
		execution.Options{
			Timeout:     time.Duration(cfg.Execution.CommandTimeoutSeconds) * time.Second,
			MaxOutput:   cfg.Execution.MaxOutputBytes,
			SettleDelay: time.Duration(cfg.Execution.ArtifactSettleMillis) * time.Millisecond,
		},
	)
	orch := orchestrator.New(gw, asm, coord, gate, orchestrator.Options{
		MaxAttemptsPerStep:   cfg.Orchestration.MaxAttemptsPerStep,
		PrefetchAlternatives: cfg.Orchestration.PrefetchAlternatives,
		RetryBackoff:         time.Duration(cfg.Model.RetryBackoffMillis) * time.Millisecond,
	})

	settings := session.DefaultSettings()
	settings.ContextRetentionDays = cfg.Storage.RetentionDays
	policy := retentionPolicy(cfg)

	return manager.New(manager.Options{
		Store:        st,
		Runner:       coord,
		Orchestrator: orch,
		Classifier:   classifier.NewModelClassifier(model.Client(), classifier.NewHeuristicClassifier(), classifierThreshold),
		Names:        session.NewNameGenerator(model.Client()),
		Tools:        coord.Tools(),
		Projects:     coord.Projects(),
		Retention:    &policy,
		Settings:     &settings,
		LockDir:      filepath.Join(filepath.Dir(cfg.Storage.Path), "locks"),
	}), nil
}

func runInteractive(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := newManager(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer m.Close()

	dir := workingDir
	if dir == "" {
		dir = cfg.WorkingDir
	}
	sess, err := m.StartOrResume(ctx, dir, resumeID)
	if err != nil {
		return err
	}

	c := cli.New(m, sess, cli.NewTerminal(os.Stdin, os.Stdout))
	if executeArg != "" {
		_, err := c.Execute(ctx, executeArg)
		m.Save(context.WithoutCancel(ctx), sess)
		return err
	}
	return c.Run(ctx)
}
