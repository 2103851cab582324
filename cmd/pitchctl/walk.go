package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/app"
	"github.com/pitchroom/pitchroom/internal/intake"
	"github.com/pitchroom/pitchroom/internal/media"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/reliability"
)

var errGaveUp = errors.New("intake stopped before reaching the boardroom")

type walkOptions struct {
	persona  string
	pitchID  string
	attempts int
	timings  intake.Timings
}

func newWalkCmd(c *cli) *cobra.Command {
	var (
		deck     string
		pitchID  string
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Run the intake locally: microphone prompt (or deck readiness), narration, then the boardroom route",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			persona, err := c.resolvePersona()
			if err != nil {
				return err
			}
			var status pitch.StatusChecker
			if deck != "" || pitchID != "" {
				client, err := c.pitchClient()
				if err != nil {
					return err
				}
				status = client
				if deck != "" {
					receipt, err := c.upload(ctx, client, deck)
					if err != nil {
						return err
					}
					pitchID = receipt.PitchID
					fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s as %s\n", deck, pitchID)
				}
			}
			route, err := runWalk(ctx, walkOptions{
				persona:  persona,
				pitchID:  pitchID,
				attempts: attempts,
				timings:  app.Timings(c.cfg),
			}, status, app.PollBackoff(c.cfg), cmd.InOrStdin(), cmd.OutOrStdout(), c.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), route)
			return nil
		},
	}
	cmd.Flags().StringVar(&deck, "deck", "", "upload this PDF first and walk the upload path")
	cmd.Flags().StringVar(&pitchID, "pitch-id", "", "walk the upload path for an already uploaded deck")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "how many times to ask for the microphone (or retry processing)")
	return cmd
}

// walkObserver prints narration and forwards affordances to the walk loop.
// It runs under the orchestrator's lock, so it only writes and never blocks.
type walkObserver struct {
	out     io.Writer
	actions chan intake.Action
	logger  *zap.Logger
}

func (w *walkObserver) StateChanged(t intake.Transition) {
	w.logger.Debug("intake state", zap.String("from", string(t.From)), zap.String("to", string(t.To)))
}

func (w *walkObserver) Narrate(b intake.Beat) {
	line := b.Title
	if b.Sub != "" {
		line += ": " + b.Sub
	}
	fmt.Fprintf(w.out, "%s %s\n", iconGlyph(b.Icon), line)
	// Only failures need an answer; the first "enable" prompt is already
	// in flight.
	if b.Action != intake.ActionNone && (b.Icon == intake.IconMicError || b.Icon == intake.IconError) {
		select {
		case w.actions <- b.Action:
		default:
		}
	}
}

func iconGlyph(i intake.Icon) string {
	switch i {
	case intake.IconCheck:
		return "[ok]"
	case intake.IconMicError:
		return "[mic]"
	case intake.IconError:
		return "[!!]"
	default:
		return "[..]"
	}
}

// runWalk drives one orchestrator to its route. In is the terminal the
// microphone prompt reads from.
func runWalk(ctx context.Context, opts walkOptions, status pitch.StatusChecker, backoff reliability.Backoff, in io.Reader, out io.Writer, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.attempts <= 0 {
		opts.attempts = 1
	}
	routes := make(chan intake.Route, 1)
	observer := &walkObserver{out: out, actions: make(chan intake.Action, 4), logger: logger}

	cfg := intake.Config{
		SessionID: "cli",
		Mode:      intake.ModeMicrophone,
		Persona:   opts.persona,
		Navigator: intake.NavigatorFunc(func(r intake.Route) error {
			routes <- r
			return nil
		}),
		Observer: observer,
		Timings:  opts.timings,
		Logger:   logger,
	}
	if strings.TrimSpace(opts.pitchID) != "" {
		cfg.Mode = intake.ModeUpload
		cfg.PitchID = opts.pitchID
		cfg.Status = status
		cfg.Backoff = backoff
	} else {
		cfg.Gate = media.NewGate(media.NewPromptProvider(in, out), logger)
	}

	orch, err := intake.New(cfg)
	if err != nil {
		return "", err
	}
	defer orch.Close()

	orch.TunnelReady()
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r := <-routes:
			return r.String(), nil
		case action := <-observer.actions:
			retries++
			if retries >= opts.attempts {
				return "", errGaveUp
			}
			switch action {
			case intake.ActionEnableMicrophone:
				orch.EnableMicrophone()
			case intake.ActionRetryProcessing:
				orch.RetryProcessing()
			}
		}
	}
}
