// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/irb-engine/internal/agents"
	"github.com/pdiddy/irb-engine/internal/analysis"
	"github.com/pdiddy/irb-engine/internal/bundle"
	"github.com/pdiddy/irb-engine/internal/container"
	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/monitor"
	"github.com/pdiddy/irb-engine/internal/notify"
	"github.com/pdiddy/irb-engine/internal/osf"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/internal/submission"
	"github.com/pdiddy/irb-engine/internal/tasks"
	"github.com/pdiddy/irb-engine/internal/telemetry"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// app holds the services one command invocation needs. Jobs scheduled by
// lifecycle commands are dispatched to the pool, which only runs under the
// work command; otherwise they stay pending in the outbox.
type app struct {
	cfg         types.Config
	store       *store.Store
	pool        *tasks.Pool
	metrics     *telemetry.Metrics
	dispatcher  notify.Dispatcher
	submissions *submission.Service
	analyses    *analysis.Service
	monitor     *monitor.Monitor
	intake      *monitor.Intake
}

func openApp(metrics *telemetry.Metrics) (*app, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = telemetry.Default()
	}
	d, err := notify.New(cfg.Notify, logging.New("notify"))
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: st, metrics: metrics, dispatcher: d}
	a.pool = tasks.NewPool(st.Jobs(), cfg.Workers, tasks.WithMetrics(metrics))
	a.submissions = submission.NewService(st,
		submission.WithQueue(a.pool),
		submission.WithAnalysisOnSubmit(cfg.Analysis.OnSubmit),
		submission.WithMetrics(metrics),
	)
	a.analyses = analysis.NewService(st, analysis.WithQueue(a.pool))
	a.monitor = monitor.New(st, d,
		monitor.WithSiteURL(cfg.Notify.SiteURL),
		monitor.WithDefaultStrategy(cfg.Monitor.DefaultStrategy),
		monitor.WithMetrics(metrics),
	)
	a.intake = monitor.NewIntake(st, a.pool)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// registerHandlers wires every job kind to its handler.
func (a *app) registerHandlers(ctx context.Context) error {
	registry, err := agents.Load(a.cfg.Analysis.CriteriaFile)
	if err != nil {
		return err
	}
	backend := agents.NewBackend(a.cfg.Analysis.AIConfig, &http.Client{})

	opts := []bundle.Option{bundle.WithLister(osf.New(a.cfg.OSF))}
	if ext, err := extractor(ctx, a.cfg.Documents.ContainerRuntime); err != nil {
		logging.New("cli").Warn("PDF and DOCX extraction unavailable", "error", err)
	} else {
		opts = append(opts, bundle.WithExtractor(ext))
	}
	asm := bundle.New(a.cfg.Documents.Dir, opts...)

	orch := analysis.NewOrchestrator(a.store, asm, backend,
		analysis.WithAgents(registry),
		analysis.WithAgentTimeout(a.cfg.Analysis.AgentTimeout),
		analysis.WithMetrics(a.metrics),
	)
	a.pool.Handle(types.JobRunAnalysis, orch.RunHandler())
	a.pool.Handle(types.JobRecomputeEvidence, a.monitor.Handler())
	a.pool.Handle(types.JobNotifySubmission, a.submissions.NotifyHandler(a.dispatcher, a.cfg.Notify.SiteURL))
	return nil
}

func extractor(ctx context.Context, runtime string) (bundle.Extractor, error) {
	rt, err := container.Select(ctx, runtime)
	if err != nil {
		return nil, err
	}
	return bundle.NewMarkitdown(ctx, rt)
}

// actor resolves the --as flag to a registered user.
func (a *app) actor(cmd *cobra.Command) (types.Actor, error) {
	as, _ := cmd.Flags().GetString("as")
	if as == "" {
		return types.Actor{}, errors.New("this command needs --as <user>")
	}
	u, err := a.store.User(cmd.Context(), as)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Actor{}, fmt.Errorf("unknown user %q", as)
		}
		return types.Actor{}, err
	}
	return u.Actor(), nil
}

// withApp opens the app for the duration of fn.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

// show writes v in the --output format, or calls text for the text format.
func show(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	format, _ := cmd.Flags().GetString("output")
	w := cmd.OutOrStdout()
	switch format {
	case "text", "":
		text(w)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}
