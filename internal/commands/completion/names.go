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

package completion

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/scheduler"
	"github.com/tombee/opencorp/internal/store"
	"github.com/tombee/opencorp/internal/worker"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

// maxRunSuggestions bounds run id completion to the most recent runs.
const maxRunSuggestions = 50

// CompleteWorkers completes the first positional argument with worker names.
func CompleteWorkers(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return workerNames(false), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteWorkerFlag completes --worker values, including auto-routing.
func CompleteWorkerFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return workerNames(true), cobra.ShellCompDirectiveNoFileComp
	})
}

func workerNames(withAuto bool) []string {
	var out []string
	if withAuto {
		out = append(out, worker.AutoWorker+"\tPick the worker whose skills match best")
	}
	p := loadProject()
	if p == nil {
		return out
	}
	names, err := worker.List(p)
	if err != nil {
		return out
	}
	return append(out, names...)
}

// CompleteWorkflows completes workflow names from the project's workflows
// directory. Paths still complete through the shell's file fallback.
func CompleteWorkflows(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		p := loadProject()
		if p == nil {
			return nil, cobra.ShellCompDirectiveDefault
		}
		files, err := pkgworkflow.Discover(p.WorkflowsDir())
		if err != nil {
			return nil, cobra.ShellCompDirectiveDefault
		}
		var names []string
		for _, f := range files {
			names = append(names, strings.TrimSuffix(f, filepath.Ext(f)))
		}
		return names, cobra.ShellCompDirectiveDefault
	})
}

// CompleteTaskIDs completes scheduled task ids, described by worker and
// schedule.
func CompleteTaskIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var tasks []scheduler.Task
		if !readCollection(cmdContext(cmd), scheduler.Collection, &tasks) {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var out []string
		for _, t := range tasks {
			if !strings.HasPrefix(t.ID, toComplete) {
				continue
			}
			out = append(out, t.ID+"\t"+t.WorkerName+" "+t.ScheduleType+" "+t.ScheduleValue)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteRunIDs completes workflow run ids, newest first.
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var runs []pkgworkflow.Run
		if !readCollection(cmdContext(cmd), pkgworkflow.RunsCollection, &runs) {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var out []string
		for i := len(runs) - 1; i >= 0 && len(out) < maxRunSuggestions; i-- {
			r := runs[i]
			if !strings.HasPrefix(r.ID, toComplete) {
				continue
			}
			out = append(out, r.ID+"\t"+r.WorkflowName+" ("+r.Status+")")
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteEventTypes completes --type values with the well-known event types.
func CompleteEventTypes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			events.WorkflowStarted,
			events.WorkflowNodeCompleted,
			events.WorkflowCompleted,
			events.WorkflowFailed,
			events.TaskStarted,
			events.TaskCompleted,
			events.TaskFailed,
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// readCollection loads every document of a collection. A project without a
// store yet reports false rather than creating one.
func readCollection(ctx context.Context, name string, out any) bool {
	p := loadProject()
	if p == nil {
		return false
	}
	return readProjectCollection(ctx, p, name, out)
}

func readProjectCollection(ctx context.Context, p *config.Project, name string, out any) bool {
	if _, err := os.Stat(p.StorePath()); err != nil {
		return false
	}
	m := store.NewManager()
	defer m.Close()
	st, err := m.Open(p.StorePath())
	if err != nil {
		return false
	}
	return st.Collection(name).All(ctx, out) == nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
