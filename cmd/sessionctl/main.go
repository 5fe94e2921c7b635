package main

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(config.New()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd(c config.Config) *cobra.Command {
	var (
		a     *app
		quiet bool
	)

	rootCmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Manage a client session against the productivity API",
		Long: `sessionctl signs in to the productivity API, keeps the token pair
on disk (or in redis) and refreshes it when it expires.

Every command restores the saved session before it runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			configureLogging(c.GetEnv())
			if !quiet {
				displayAppname(c.GetAppName())
			}
			var err error
			a, err = newApp(c, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return a.initialize(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a == nil {
				return nil
			}
			return a.close()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the banner")

	current := func() *app { return a }
	rootCmd.AddCommand(
		loginCmd(current),
		logoutCmd(current),
		registerCmd(current),
		statusCmd(current),
		verifyEmailCmd(current),
		resetPasswordCmd(current),
		getCmd(current),
		tokenCmd(current),
		openCmd(current),
		serveCmd(current),
	)
	return rootCmd
}

// configureLogging switches the global logger to a console writer in DEV.
func configureLogging(env string) {
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
