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

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every opencorp collector is registered on.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	// SpendTotal is cumulative recorded spend in currency units.
	SpendTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencorp_spend_usd_total",
			Help: "Total recorded LLM spend",
		},
		[]string{"worker", "model"},
	)

	// BudgetUsageRatio is today's spend divided by the daily limit.
	BudgetUsageRatio = factory.NewGauge(prometheus.GaugeOpts{
		Name: "opencorp_budget_usage_ratio",
		Help: "Fraction of today's budget spent",
	})

	// LLMRequests counts model calls by outcome (success, failover, error).
	LLMRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencorp_llm_requests_total",
			Help: "Total LLM requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	// LLMFailovers counts moves from one candidate model to the next.
	LLMFailovers = factory.NewCounter(prometheus.CounterOpts{
		Name: "opencorp_llm_failovers_total",
		Help: "Total failovers to the next candidate model",
	})

	// WorkflowRuns counts finished workflow runs by final status.
	WorkflowRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencorp_workflow_runs_total",
			Help: "Total workflow runs by final status",
		},
		[]string{"status"},
	)

	// NodeDuration observes node execution time including retries.
	NodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opencorp_workflow_node_duration_seconds",
			Help:    "Duration of workflow node execution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// ScheduledExecutions counts scheduler task executions by outcome.
	ScheduledExecutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencorp_scheduled_task_executions_total",
			Help: "Total scheduled task executions by outcome",
		},
		[]string{"outcome"},
	)

	// WebhookRequests counts webhook requests by route and status code.
	WebhookRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencorp_webhook_requests_total",
			Help: "Total webhook requests by route and status",
		},
		[]string{"route", "code"},
	)

	// EventsEmitted counts events persisted to the event log.
	EventsEmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencorp_events_emitted_total",
			Help: "Total events emitted by type",
		},
		[]string{"type"},
	)
)

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
