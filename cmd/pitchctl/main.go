package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/app"
	"github.com/pitchroom/pitchroom/internal/config"
	"github.com/pitchroom/pitchroom/internal/logging"
	"github.com/pitchroom/pitchroom/internal/pitch"
)

// cli is the state shared by every subcommand.
type cli struct {
	verbose bool
	mock    bool
	apiURL  string
	persona string
	user    string

	cfg    config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pitchctl: %v\n", err)
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		os.Exit(1)
	}
}

// exitError carries a specific process exit code.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "pitchctl",
		Short:         "Upload pitch decks and walk the boardroom intake from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&c.mock, "mock", false, "use the in-process mock pitch API (overrides PITCH_USE_MOCK)")
	flags.StringVar(&c.apiURL, "api", "", "pitch API base URL (overrides PITCH_API_URL)")
	flags.StringVarP(&c.persona, "persona", "p", "", "investor persona key (default: catalog default)")
	flags.StringVar(&c.user, "user", "cli", "user id for sessions and minted tokens")

	root.AddCommand(
		newUploadCmd(c),
		newStatusCmd(c),
		newAwaitCmd(c),
		newWalkCmd(c),
		newSessionCmd(c),
		newTokenCmd(c),
		newPersonasCmd(c),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cmd.Flags().Changed("mock") {
		cfg.PitchUseMock = c.mock
	}
	if api := strings.TrimRight(strings.TrimSpace(c.apiURL), "/"); api != "" {
		cfg.PitchAPIURL = api
	}
	logger, err := logging.NewCLI(c.verbose)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// resolvePersona returns the catalog key for the --persona flag.
func (c *cli) resolvePersona() (string, error) {
	catalog, err := app.LoadPersonas(c.cfg)
	if err != nil {
		return "", err
	}
	return catalog.Resolve(c.persona)
}

func (c *cli) pitchClient() (pitch.Client, error) {
	return app.NewPitchClient(c.cfg, c.logger.Named("pitch"))
}

// token returns the bearer token for uploads. A missing token is not an
// error here: validation reports it as unauthenticated.
func (c *cli) token(ctx context.Context) string {
	src, err := app.NewTokenSource(c.cfg, c.user)
	if err != nil {
		c.logger.Debug("token source unavailable", zap.Error(err))
		return ""
	}
	tok, err := src.Token(ctx, c.cfg.AuthTokenTemplate)
	if err != nil {
		c.logger.Debug("no bearer token", zap.Error(err))
		return ""
	}
	return tok
}
