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

package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/pkg/llm"
)

// Chunk is one piece of a streamed response. The last chunk has Done set and
// carries the totals.
type Chunk struct {
	Content string
	Done    bool

	ModelUsed   string
	TokensIn    int
	TokensOut   int
	Cost        float64
	FullContent string

	// Err ends the stream without a Done chunk.
	Err error
}

// Stream runs the request against the first candidate only. There is no
// failover once output has started. Spend is recorded once, after the
// provider finishes.
func (r *Router) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	r.normalize(&req)

	candidates, _, err := r.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	model := candidates[0]

	upstream, err := r.provider.Stream(ctx, llm.CompletionRequest{
		Messages:    req.Messages,
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		return nil, fmt.Errorf("model %s: %w", model, err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var full strings.Builder
		var usage llm.TokenUsage
		for c := range upstream {
			if c.Error != nil {
				metrics.LLMRequests.WithLabelValues(model, "error").Inc()
				send(Chunk{Err: c.Error})
				return
			}
			if c.Usage != nil {
				usage = *c.Usage
			}
			if c.Content != "" {
				full.WriteString(c.Content)
				if !send(Chunk{Content: c.Content}) {
					return
				}
			}
		}

		metrics.LLMRequests.WithLabelValues(model, "success").Inc()
		res := &Result{
			ModelUsed: model,
			TokensIn:  usage.InputTokens,
			TokensOut: usage.OutputTokens,
			Content:   full.String(),
		}
		res.Cost = r.pricer.Estimate(model, res.TokensIn, res.TokensOut)
		r.record(ctx, req.Worker, res)

		send(Chunk{
			Done:        true,
			ModelUsed:   model,
			TokensIn:    res.TokensIn,
			TokensOut:   res.TokensOut,
			Cost:        res.Cost,
			FullContent: res.Content,
		})
	}()
	return out, nil
}
