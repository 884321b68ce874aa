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

// Package management implements project upkeep commands: the event log,
// retention housekeeping and project validation.
package management

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/cli/format"
	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/events"
)

const eventDataRunes = 100

var (
	eventsType   string
	eventsSource string
	eventsLimit  int
)

// EventsResponse is the JSON form of corp events.
type EventsResponse struct {
	shared.JSONResponse
	Events []events.Event `json:"events"`
}

// NewEventsCommand creates the events command
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "events",
		Annotations: map[string]string{"group": "management"},
		Short:       "View the event log",
		Long: `Show recorded events, newest first: workflow and scheduled task
lifecycle events and anything posted to the webhook.`,
		Example: `  corp events --type workflow.completed
  corp events --source scheduler:1a2b3c4d --limit 5`,
		Args: cobra.NoArgs,
		RunE: runEvents,
	}
	cmd.Flags().StringVar(&eventsType, "type", "", "Only events of this type")
	cmd.Flags().StringVar(&eventsSource, "source", "", "Only events from this source")
	cmd.Flags().IntVar(&eventsLimit, "limit", 20, "Maximum events to show")
	cmd.RegisterFlagCompletionFunc("type", completion.CompleteEventTypes)
	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	evs, err := app.Events.Query(ctx, events.Filter{Type: eventsType, Source: eventsSource, Limit: eventsLimit})
	if err != nil {
		return shared.NewExecutionError("querying events", err)
	}

	if shared.GetJSON() {
		if evs == nil {
			evs = []events.Event{}
		}
		return shared.EmitJSON(cmd.OutOrStdout(), EventsResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "events", Success: true},
			Events:       evs,
		})
	}

	out := cmd.OutOrStdout()
	if len(evs) == 0 {
		fmt.Fprintln(out, "No events recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSOURCE\tDATA")
	for _, ev := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.Time().Local().Format("2006-01-02 15:04:05"),
			ev.Type,
			ev.Source,
			formatData(ev.Data),
		)
	}
	return w.Flush()
}

// formatData renders event data as sorted key=value pairs with each value
// cut to a readable length.
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := data[k].(type) {
		case string:
			v = val
		default:
			s, err := format.JSON(val, false)
			if err != nil {
				s = fmt.Sprint(val)
			}
			v = strings.Join(strings.Fields(s), " ")
		}
		v = strings.ReplaceAll(v, "\n", " ")
		if r := []rune(v); len(r) > eventDataRunes {
			v = string(r[:eventDataRunes]) + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
