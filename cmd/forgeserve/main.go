// Command forgeserve runs the single-threaded, readiness-reactor-driven
// HTTP/1.1 origin server: one positional argument naming an nginx-style
// configuration file, a -t/--test flag to validate that file and exit
// without binding any sockets, and graceful SIGINT/SIGTERM shutdown with
// a bounded drain, per spec §5 and §6.
//
// The single positional config-file argument plus -t validate-and-exit
// flag mirrors nginx's own CLI surface; cobra is the corpus's CLI library
// (see DESIGN.md), used here the way the teacher's cli/ package builds
// its own (much smaller) flag surface.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nolenjoy/forgeserve/internal/config"
	"github.com/nolenjoy/forgeserve/internal/engine"
	"github.com/nolenjoy/forgeserve/internal/logging"
	"github.com/nolenjoy/forgeserve/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		testOnly   bool
		logFormat  string
		logLevel   string
		sessionCap int
	)

	cmd := &cobra.Command{
		Use:   "forgeserve <config-file>",
		Short: "A single-threaded, readiness-reactor-driven HTTP/1.1 origin server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("forgeserve: read config: %w", err)
			}
			cfg, err := config.Parse(src)
			if err != nil {
				return fmt.Errorf("forgeserve: config: %w", err)
			}
			if testOnly {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration file is valid")
				return nil
			}

			log := logging.New(logFormat, logLevel, cmd.ErrOrStderr())
			sessions := session.NewStore(sessionCap, session.DefaultTTL)

			eng, err := engine.New(cfg, sessions, log)
			if err != nil {
				return fmt.Errorf("forgeserve: start: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			shutdownCh := make(chan struct{})
			go func() {
				<-sigCh
				close(shutdownCh)
			}()

			log.Info().Msg("forgeserve starting")
			if err := eng.Run(shutdownCh); err != nil {
				return fmt.Errorf("forgeserve: %w", err)
			}
			log.Info().Msg("forgeserve stopped")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&testOnly, "test", "t", false, "validate the configuration file and exit")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", `log output format: "json" or "console"`)
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level")
	cmd.Flags().IntVar(&sessionCap, "session-capacity", 10000, "maximum concurrently tracked sessions")

	return cmd
}
