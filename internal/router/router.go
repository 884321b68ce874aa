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

// Package router picks a model for each chat request and fails over across
// candidates. It consults the budget before every call and records spend
// after every success.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/internal/tracing"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/llm"
)

// Ledger is the budget gate consulted by the router.
type Ledger interface {
	PreCheck(ctx context.Context) (budget.Status, error)
	RecordCall(ctx context.Context, rec budget.SpendRecord) error
}

// Pricer estimates the cost of a call.
type Pricer interface {
	Estimate(model string, tokensIn, tokensOut int) float64
}

// Request is one chat call.
type Request struct {
	Messages []llm.Message

	// Tier is the requested tier. Default: cheap.
	Tier string

	// Model, when set, is tried before any tier model.
	Model string

	// Worker is charged for the call. Default: system.
	Worker string

	Tools       []llm.Tool
	Temperature *float64
	MaxTokens   *int
}

// Result is a successful chat call.
type Result struct {
	Content   string
	ModelUsed string
	TokensIn  int
	TokensOut int
	Cost      float64
	ToolCalls []llm.ToolCall

	// ToolIterations is the number of tool rounds run by ToolLoop.
	ToolIterations int
}

// Router dispatches chat requests to the provider.
type Router struct {
	provider llm.Provider
	ledger   Ledger
	pricer   Pricer
	tiers    map[string][]string
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New creates a router. tiers maps tier name to its ordered models.
func New(provider llm.Provider, ledger Ledger, pricer Pricer, tiers map[string][]string, opts ...Option) *Router {
	r := &Router{
		provider: provider,
		ledger:   ledger,
		pricer:   pricer,
		tiers:    tiers,
		logger:   slog.Default(),
		tracer:   tracing.Tracer("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.WithComponent(r.logger, "router")
	return r
}

func (r *Router) normalize(req *Request) {
	if req.Tier == "" {
		req.Tier = TierCheap
	}
	if req.Worker == "" {
		req.Worker = budget.DefaultWorker
	}
}

// resolve runs the budget gate and builds the candidate list.
func (r *Router) resolve(ctx context.Context, req Request) ([]string, budget.Status, error) {
	status, err := r.ledger.PreCheck(ctx)
	if err != nil {
		return nil, status, err
	}
	candidates := Candidates(req.Model, req.Tier, status, r.tiers)
	if len(candidates) == 0 {
		return nil, status, &corperrors.ModelUnavailableError{
			Model: firstNonEmpty(req.Model, req.Tier),
			Tier:  req.Tier,
			Tried: []string{},
		}
	}
	r.logger.Debug("model selection",
		log.TierKey, req.Tier,
		"budget", status.String(),
		"candidates", candidates,
	)
	return candidates, status, nil
}

// Chat sends the request to each candidate in turn and returns the first
// success. Transport failures move on to the next candidate; anything else
// (a cancelled context, a malformed request) stops immediately.
func (r *Router) Chat(ctx context.Context, req Request) (*Result, error) {
	r.normalize(&req)

	ctx, span := r.tracer.Start(ctx, "router.chat", trace.WithAttributes(
		attribute.String("tier", req.Tier),
		attribute.String("worker", req.Worker),
		attribute.String("model.requested", req.Model),
	))
	defer span.End()

	candidates, status, err := r.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.StringSlice("candidates", candidates),
		attribute.String("budget.status", status.String()),
	)

	tried := make([]string, 0, len(candidates))
	for i, model := range candidates {
		tried = append(tried, model)
		start := time.Now()

		resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
			Messages:    req.Messages,
			Model:       model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Tools:       req.Tools,
		})
		if err != nil {
			if !llm.ShouldFailover(err) {
				metrics.LLMRequests.WithLabelValues(model, "error").Inc()
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("model %s: %w", model, err)
			}
			metrics.LLMRequests.WithLabelValues(model, "failover").Inc()
			r.logger.Warn("model failed, trying next candidate",
				log.ModelKey, model,
				log.DurationKey, time.Since(start).Milliseconds(),
				log.Error(err),
			)
			if i < len(candidates)-1 {
				metrics.LLMFailovers.Inc()
			}
			continue
		}

		metrics.LLMRequests.WithLabelValues(model, "success").Inc()
		result := &Result{
			Content:   resp.Content,
			ModelUsed: model,
			TokensIn:  resp.Usage.InputTokens,
			TokensOut: resp.Usage.OutputTokens,
			ToolCalls: resp.ToolCalls,
		}
		result.Cost = r.pricer.Estimate(model, result.TokensIn, result.TokensOut)
		r.record(ctx, req.Worker, result)

		span.SetAttributes(
			attribute.String("model.used", model),
			attribute.Int("tokens.in", result.TokensIn),
			attribute.Int("tokens.out", result.TokensOut),
			attribute.Float64("cost", result.Cost),
		)
		r.logger.Debug("model call succeeded",
			log.ModelKey, model,
			log.WorkerKey, req.Worker,
			log.DurationKey, time.Since(start).Milliseconds(),
		)
		return result, nil
	}

	err = &corperrors.ModelUnavailableError{
		Model: firstNonEmpty(req.Model, req.Tier),
		Tier:  req.Tier,
		Tried: tried,
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// record charges the call to the worker. A ledger write failure is logged;
// the response has already been produced.
func (r *Router) record(ctx context.Context, worker string, res *Result) {
	err := r.ledger.RecordCall(ctx, budget.SpendRecord{
		Model:     res.ModelUsed,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		Cost:      res.Cost,
		Worker:    worker,
	})
	if err != nil {
		r.logger.Error("failed to record spend", log.ModelKey, res.ModelUsed, log.WorkerKey, worker, log.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
