package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"pocketllm/internal/progress"
	"pocketllm/internal/session"
)

func newRunCmd(a *app) *cobra.Command {
	var name, input string
	var raw, noStream bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a profile's model and generate one completion",
		Example: "  pocketllm run --input 'Write a haiku about the ocean.'\n" +
			"  echo 'hello' | pocketllm run --profile chat --input -",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				input = strings.TrimRight(string(b), "\n")
			}
			if name == "" {
				name = a.cfg.DefaultProfile
			}
			return a.run(cmd.Context(), cmd.OutOrStdout(), name, input, raw, !noStream)
		},
	}
	cmd.Flags().StringVar(&name, "profile", "", "Profile to use (default: configured default profile)")
	cmd.Flags().StringVar(&input, "input", "", "User input; '-' reads stdin")
	cmd.Flags().BoolVar(&raw, "raw", false, "Send input verbatim, skipping the prompt template")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print only the final text")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, name, input string, raw, stream bool) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	c, err := store.LoadOrDefault(name)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	loop := progress.StartLoop()
	defer loop.Close()
	var pub session.EventPublisher
	if stream {
		pub = session.PublisherFunc(func(e session.Event) {
			if e.Type == session.EventToken {
				fmt.Fprint(out, e.Token)
			}
		})
	}
	sess, err := session.New(session.Config{Engine: a.newEngine(a.cfg, a.log), Executor: loop, Publisher: pub, Logger: a.log})
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	last := -10
	sess.SetProgressListener(progress.ListenerFunc(func(f float64) {
		if pct := int(f * 100); pct/10 != last/10 || pct == 100 {
			last = pct
			a.log.Info().Int("percent", pct).Msg("downloading")
		}
	}))

	if _, err := sess.Prepare(ctx, c.ModelURL, a.cfg.ModelsDir, c.Parameters()); err != nil {
		return err
	}
	prompt := input
	if !raw {
		prompt = c.Render(input)
	}
	op, err := sess.Generate(prompt)
	if err != nil {
		return err
	}
	text, err := op.Wait(ctx)
	if err != nil {
		return err
	}
	if stream {
		if err := loop.Flush(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out)
		return nil
	}
	fmt.Fprintln(out, text)
	return nil
}
