package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/app"
	"github.com/pitchroom/pitchroom/internal/pitch"
)

func newUploadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <deck.pdf>",
		Short: "Upload a pitch deck and print its tracking id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.pitchClient()
			if err != nil {
				return err
			}
			receipt, err := c.upload(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", receipt.PitchID, receipt.Status)
			return nil
		},
	}
}

func (c *cli) upload(ctx context.Context, client pitch.Uploader, path string) (pitch.Receipt, error) {
	persona, err := c.resolvePersona()
	if err != nil {
		return pitch.Receipt{}, err
	}
	upload, f, err := pitch.OpenFile(path)
	if err != nil {
		return pitch.Receipt{}, err
	}
	defer f.Close()

	receipt, err := client.Submit(ctx, upload, persona, c.token(ctx))
	if err != nil {
		c.logger.Debug("upload failed", zap.String("path", path), zap.Error(err))
		return pitch.Receipt{}, errors.New(pitch.UserMessage(err))
	}
	c.logger.Info("deck uploaded", zap.String("pitch_id", receipt.PitchID), zap.String("persona", persona))
	return receipt, nil
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <pitch-id>",
		Short: "Poll the processing status of an uploaded deck once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.pitchClient()
			if err != nil {
				return err
			}
			report, err := client.Poll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func newAwaitCmd(c *cli) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "await <pitch-id>",
		Short: "Poll until an uploaded deck is ready or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.pitchClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			out := cmd.OutOrStdout()
			_, err = pitch.AwaitReady(ctx, client, args[0], app.PollBackoff(c.cfg), func(r pitch.StatusReport) {
				printReport(out, r)
			})
			if errors.Is(err, pitch.ErrProcessingFailed) {
				return exitError(3)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long (0 = never)")
	return cmd
}

func printReport(w io.Writer, r pitch.StatusReport) {
	if r.Error != nil && *r.Error != "" {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.PitchID, r.Status, *r.Error)
		return
	}
	fmt.Fprintf(w, "%s\t%s\n", r.PitchID, r.Status)
}
