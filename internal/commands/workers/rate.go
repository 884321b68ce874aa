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

package workers

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

var (
	rateTask   string
	rateResult string
)

func newRateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate <name> <1-5>",
		Short: "Record a rating for a worker's recent work",
		Long: `Append a rated entry to the worker's performance log. Ratings feed the
performance summary and the auto-routing score.`,
		Example:           `  corp workers rate alice 4 --task "weekly report"`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.CompleteWorkers,
		RunE:              runRate,
	}
	cmd.Flags().StringVar(&rateTask, "task", "manual review", "What was rated")
	cmd.Flags().StringVar(&rateResult, "result", worker.ResultCompleted, "Task result (completed or failed)")
	return cmd
}

func runRate(cmd *cobra.Command, args []string) error {
	name := args[0]
	rating, err := strconv.Atoi(args[1])
	if err != nil || rating < 1 || rating > 5 {
		return &corperrors.ValidationError{
			Field:      "rating",
			Message:    fmt.Sprintf("rating must be an integer from 1 to 5, got %q", args[1]),
			Suggestion: "Use a whole number between 1 and 5.",
		}
	}
	if rateResult != worker.ResultCompleted && rateResult != worker.ResultFailed {
		return &corperrors.ValidationError{
			Field:   "result",
			Message: fmt.Sprintf("result must be %q or %q", worker.ResultCompleted, worker.ResultFailed),
		}
	}

	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	w, err := worker.Load(app.Project, name, worker.WithLogger(app.Logger))
	if err != nil {
		return err
	}
	if err := w.RecordPerformance(rateTask, rateResult, &rating); err != nil {
		return shared.NewExecutionError("recording rating", err)
	}
	summary := w.Summary()

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "workers rate", "success": true,
			"worker": name, "rating": rating, "summary": summary,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Rated %s %d/5 (average %.2f over %d rated tasks)",
		name, rating, summary.AvgRating, summary.RatedCount)))
	return nil
}
