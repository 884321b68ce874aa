// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/cli/prompt"
	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/events"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/internal/registry"
	"github.com/tombee/opencorp/internal/router"
	"github.com/tombee/opencorp/internal/scheduler"
	"github.com/tombee/opencorp/internal/secrets"
	"github.com/tombee/opencorp/internal/store"
	"github.com/tombee/opencorp/internal/tracing"
	"github.com/tombee/opencorp/internal/worker"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/llm/pricing"
	"github.com/tombee/opencorp/pkg/llm/providers"
	"github.com/tombee/opencorp/pkg/tools"
	"github.com/tombee/opencorp/pkg/tools/builtin"
	"github.com/tombee/opencorp/pkg/workflow"
)

// APIKeySecret is the secret name of the OpenRouter key. The environment
// backend reads it from OPENROUTER_API_KEY.
const APIKeySecret = "openrouter_api_key"

// BaseURLEnv points the OpenRouter client at another endpoint.
const BaseURLEnv = "OPENROUTER_BASE_URL"

// App holds the components a command needs, wired against one project.
type App struct {
	Project *config.Project
	Store   *store.Store
	Ledger  *budget.Ledger
	Pricing *pricing.Cache
	Events  *events.Log
	Secrets *secrets.Resolver
	Logger  *slog.Logger

	manager *store.Manager
	tracing *tracing.Provider
	router  *router.Router
	tools   *tools.Registry
}

// NewLogger builds the process logger. --verbose lowers the level to debug
// unless the environment already chose one.
func NewLogger() *slog.Logger {
	cfg := internallog.FromEnv()
	if verboseFlag && os.Getenv("LOG_LEVEL") == "" && os.Getenv("OPENCORP_LOG_LEVEL") == "" {
		cfg.Level = "debug"
	}
	return internallog.New(cfg)
}

// ProjectDir resolves the project from --project, $OPENCORP_PROJECT or the
// working directory. When none of those finds a charter, the active
// operation from the registry is used.
func ProjectDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	dir := config.FindProjectDir(projectFlag, cwd)
	if projectFlag != "" || os.Getenv(config.ProjectEnv) != "" {
		return dir, nil
	}
	if _, err := os.Stat(filepath.Join(dir, config.CharterFile)); err == nil {
		return dir, nil
	}
	if reg, err := registry.Default(); err == nil {
		if op, ok := reg.Active(); ok {
			return op.Path, nil
		}
	}
	return dir, nil
}

// OpenApp loads the project from ProjectDir and opens its store.
func OpenApp(ctx context.Context) (*App, error) {
	dir, err := ProjectDir()
	if err != nil {
		return nil, err
	}
	p, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return NewApp(ctx, p, NewLogger())
}

// NewApp wires the components for an already loaded project.
func NewApp(ctx context.Context, p *config.Project, logger *slog.Logger) (*App, error) {
	m := store.NewManager()
	st, err := m.Open(p.StorePath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	tp, err := tracing.Setup(ctx, tracing.FromEnv(version), metrics.Registry)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	return &App{
		Project: p,
		Store:   st,
		Ledger:  budget.NewLedger(p.Charter.Budget, st, budget.WithLogger(logger)),
		Pricing: pricing.NewCache(p.PricingPath(), logger),
		Events:  events.NewLog(st, events.WithLogger(logger)),
		Secrets: secrets.Default(),
		Logger:  logger,
		manager: m,
		tracing: tp,
	}, nil
}

// Close flushes spans and closes the store.
func (a *App) Close() error {
	var errs []error
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(context.Background()))
	}
	errs = append(errs, a.manager.Close())
	return errors.Join(errs...)
}

// Provider builds the OpenRouter client. The key is optional for model
// listing only.
func (a *App) Provider(ctx context.Context, requireKey bool) (*providers.OpenRouter, error) {
	key := a.Secrets.Lookup(ctx, APIKeySecret)
	if key == "" && requireKey {
		return nil, &corperrors.ConfigError{
			Key:        "OPENROUTER_API_KEY",
			Reason:     "no OpenRouter API key configured",
			Suggestion: "Set OPENROUTER_API_KEY in .env or run 'corp auth set-key'.",
		}
	}
	return providers.NewOpenRouter(providers.OpenRouterConfig{
		APIKey:  key,
		BaseURL: os.Getenv(BaseURLEnv),
		Logger:  a.Logger,
	})
}

// Router returns the shared model router, building it on first use.
func (a *App) Router(ctx context.Context) (*router.Router, error) {
	if a.router != nil {
		return a.router, nil
	}
	provider, err := a.Provider(ctx, true)
	if err != nil {
		return nil, err
	}
	if warning := a.Pricing.StalenessWarning(); warning != "" {
		a.Logger.Warn(warning)
	}
	a.router = router.New(provider, a.Ledger, a.Pricing, a.Project.Charter.TierModelMap(), router.WithLogger(a.Logger))
	return a.router, nil
}

// Tools returns the built-in tool registry.
func (a *App) Tools() (*tools.Registry, error) {
	if a.tools != nil {
		return a.tools, nil
	}
	reg, err := builtin.NewRegistry(builtin.Options{ProjectDir: a.Project.Dir, Logger: a.Logger})
	if err != nil {
		return nil, err
	}
	a.tools = reg
	return reg, nil
}

// Runner returns a task runner backed by the router and the tools.
func (a *App) Runner(ctx context.Context) (*worker.Runner, error) {
	r, err := a.Router(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := a.Tools()
	if err != nil {
		return nil, err
	}
	return worker.NewRunner(a.Project, r, reg, a.Logger), nil
}

// RunStore persists workflow runs in the project store.
func (a *App) RunStore() *workflow.DocumentRunStore {
	return workflow.NewDocumentRunStore(a.Store)
}

// Engine returns a workflow engine that persists runs and emits events.
func (a *App) Engine(runner workflow.WorkerRunner, opts ...workflow.Option) *workflow.Engine {
	base := []workflow.Option{
		workflow.WithLogger(a.Logger),
		workflow.WithEmitter(a.Events),
		workflow.WithRunStore(a.RunStore()),
	}
	return workflow.NewEngine(runner, append(base, opts...)...)
}

// Scheduler returns a scheduler over the project's task table. runner may be
// nil for commands that only manage tasks.
func (a *App) Scheduler(runner scheduler.TaskRunner) *scheduler.Scheduler {
	return scheduler.New(a.Project, a.Store, runner,
		scheduler.WithEmitter(a.Events),
		scheduler.WithLogger(a.Logger),
	)
}

// NewPrompter returns the prompter commands use for questions. Tests replace
// it with a prompt.MockPrompter.
var NewPrompter = func() prompt.Prompter {
	return prompt.NewSurveyPrompter(IsInteractive())
}
