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

// Package chat implements conversations with a single worker and one-off
// delegation to the best matching worker.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/cli/format"
	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/router"
	"github.com/tombee/opencorp/internal/worker"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/llm"
)

var chatMessage string

var quitWords = map[string]bool{"quit": true, "exit": true, "q": true}

// NewCommand creates the chat command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "chat <worker>",
		Annotations: map[string]string{"group": "core"},
		Short:       "Chat with a worker",
		Long: `Start a conversation with a worker. Each line you type is one turn;
responses stream as they arrive. Type quit, exit or q (or send EOF) to
leave, at which point the worker stores a short summary of the session.

With --message, sends a single message and prints the reply.`,
		Example: `  corp chat alice
  corp chat alice -m "Draft three taglines for the launch"`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteWorkers,
		RunE:              runChat,
	}
	cmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send one message and exit")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	reg, err := app.Tools()
	if err != nil {
		return shared.NewExecutionError("loading tools", err)
	}
	w, err := worker.Load(app.Project, args[0], worker.WithTools(reg), worker.WithLogger(app.Logger))
	if err != nil {
		return err
	}
	r, err := app.Router(ctx)
	if err != nil {
		return err
	}

	if chatMessage != "" {
		return oneShot(ctx, cmd.OutOrStdout(), w, r, chatMessage)
	}
	s := &session{
		w:           w,
		r:           r,
		in:          cmd.InOrStdin(),
		out:         cmd.OutOrStdout(),
		interactive: shared.IsInteractive(),
	}
	return s.run(ctx)
}

func oneShot(ctx context.Context, out io.Writer, w *worker.Worker, r *router.Router, message string) error {
	response, _, err := w.Chat(ctx, r, message, nil)
	if err != nil {
		return err
	}
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{
			"@version": "1.0", "command": "chat", "success": true,
			"worker": w.Name, "response": response,
		})
	}
	fmt.Fprintln(out, format.Markdown(response, format.IsTTY()))
	return nil
}

// session is one REPL conversation.
type session struct {
	w           *worker.Worker
	r           *router.Router
	in          io.Reader
	out         io.Writer
	interactive bool
	history     []llm.Message
}

func (s *session) run(ctx context.Context) error {
	if s.interactive {
		fmt.Fprintf(s.out, "Chatting with %s (%s, L%d). Type 'quit' to exit.\n\n",
			shared.Bold.Render(s.w.Name), worker.Title(s.w.Level()), s.w.Level())
	}

	sc := bufio.NewScanner(s.in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if s.interactive {
			fmt.Fprint(s.out, shared.StatusInfo.Render("You: "))
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if quitWords[strings.ToLower(line)] {
			break
		}
		if err := s.turn(ctx, line); err != nil {
			// A frozen budget ends the session; summarizing would be refused too.
			var be *corperrors.BudgetExceededError
			if errors.As(err, &be) || ctx.Err() != nil {
				return err
			}
			fmt.Fprintln(s.out, shared.RenderError(err.Error()))
		}
	}
	if err := sc.Err(); err != nil {
		return shared.NewExecutionError("reading input", err)
	}
	s.finish(ctx)
	return nil
}

func (s *session) turn(ctx context.Context, line string) error {
	fmt.Fprintf(s.out, "%s ", shared.Bold.Render(s.w.Name+":"))

	// Tool-using workers need the non-streaming loop.
	if len(s.w.Config.Tools) > 0 || !s.interactive {
		response, history, err := s.w.Chat(ctx, s.r, line, s.history)
		if err != nil {
			fmt.Fprintln(s.out)
			return err
		}
		s.history = history
		fmt.Fprintln(s.out, format.Markdown(response, s.interactive && format.IsTTY()))
		return nil
	}

	_, history, err := s.w.ChatStream(ctx, s.r, line, s.history, func(delta string) {
		fmt.Fprint(s.out, delta)
	})
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}
	s.history = history
	fmt.Fprintln(s.out)
	return nil
}

// finish stores a session summary when anything was said.
func (s *session) finish(ctx context.Context) {
	if len(s.history) > 0 {
		if _, err := s.w.SummarizeSession(context.WithoutCancel(ctx), s.r, s.history); err != nil {
			fmt.Fprintln(s.out, shared.RenderWarn("Could not save session summary: "+err.Error()))
		} else {
			fmt.Fprintln(s.out, shared.Muted.Render("Session summary saved to memory."))
		}
	}
	fmt.Fprintln(s.out, "Bye.")
}
