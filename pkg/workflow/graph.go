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

package workflow

import (
	"fmt"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// TopologicalSort orders nodes so every node comes after its dependencies.
// Dependencies that name no node in the workflow are ignored. Ties keep the
// declared order.
func TopologicalSort(workflowName string, nodes []Node) ([]Node, error) {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(nodes))
	sorted := make([]Node, 0, len(nodes))

	type frame struct {
		id   string
		next int
	}

	for _, root := range nodes {
		if state[root.ID] != unvisited {
			continue
		}
		stack := []frame{{id: root.ID}}
		state[root.ID] = inStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := byID[top.id].DependsOn

			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				if _, ok := byID[dep]; !ok {
					continue
				}
				switch state[dep] {
				case inStack:
					return nil, &corperrors.WorkflowError{
						Workflow: workflowName,
						Reason:   fmt.Sprintf("Cycle detected involving node '%s'", dep),
						Node:     dep,
					}
				case unvisited:
					state[dep] = inStack
					stack = append(stack, frame{id: dep})
				}
				continue
			}

			state[top.id] = done
			sorted = append(sorted, byID[top.id])
			stack = stack[:len(stack)-1]
		}
	}
	return sorted, nil
}

// ComputeDepths assigns each node the length of its longest dependency chain.
// sorted must be topologically ordered. Nodes with no dependencies in the
// set have depth zero.
func ComputeDepths(sorted []Node) map[string]int {
	depths := make(map[string]int, len(sorted))
	for _, n := range sorted {
		d := 0
		for _, dep := range n.DependsOn {
			if dd, ok := depths[dep]; ok && dd+1 > d {
				d = dd + 1
			}
		}
		depths[n.ID] = d
	}
	return depths
}

// Layers groups sorted nodes by depth in ascending order. Within a layer
// nodes keep their sorted order.
func Layers(sorted []Node, depths map[string]int) [][]Node {
	maxDepth := -1
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	layers := make([][]Node, maxDepth+1)
	for _, n := range sorted {
		d := depths[n.ID]
		layers[d] = append(layers[d], n)
	}
	return layers
}
