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

/*
Package cli provides the root command for the corp binary.

Individual commands live in the internal/commands subpackages and are added
by main.

# Command Tree

	corp
	├── init          Create a new project
	├── ops           Register and switch between projects
	├── auth          Store the OpenRouter API key
	├── models        List tier models and refresh pricing
	├── completion    Generate shell completion scripts
	├── status        Company overview
	├── budget        Today's spend report
	├── workers       List, hire, fire, promote and rate workers
	├── chat          Talk to a worker
	├── delegate      Route a task to the best matching worker
	├── workflow      Run and inspect workflows
	├── schedule      Manage scheduled tasks
	├── daemon        Run the scheduler in the background
	├── webhook       Serve the webhook API
	├── mcp-server    Serve the project to MCP clients
	├── events        Query the event log
	├── housekeep     Apply retention now
	├── validate      Check workers, workflows and tasks
	├── doctor        Check project health and configuration
	└── version       Show version

# Global Flags

	--project, -p    Project directory
	--verbose, -v    Enable debug logging
	--json           Output in JSON format

# Exit Codes

	0  success
	1  execution failed
	2  invalid input (flags, charter, workflow or schedule)
	3  budget frozen
	4  worker, run, task or operation not found
*/
package cli
