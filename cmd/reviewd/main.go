// Command reviewd serves the review API and carries the operator commands
// that share its configuration.
package main

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-review-backend/internal/config"
	"github.com/tbourn/go-review-backend/internal/sysutil"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("reviewd failed")
		os.Exit(1)
	}
}

// cli carries the configuration loaded before any subcommand runs.
type cli struct {
	envFile string
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	app := &cli{}

	root := &cobra.Command{
		Use:   "reviewd",
		Short: "checklist review service for scientific articles",
		Long: "reviewd scores uploaded articles against a ten item methodological\n" +
			"checklist and keeps every scoring pass as a numbered version.\n\n" +
			"Without a subcommand it runs the HTTP server.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
		RunE: app.serve,
	}
	root.PersistentFlags().StringVar(&app.envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE:  app.serve,
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "create tables and indexes, then exit",
		Args:  cobra.NoArgs,
		RunE:  app.migrate,
	})

	root.AddCommand(&cobra.Command{
		Use:   "score <file.pdf>",
		Short: "extract and score one PDF without storing it",
		Long: "   Prints the extracted title, page count and the scored checklist as JSON.\n\n" +
			"   Example: reviewd score paper.pdf",
		Args: cobra.ExactArgs(1),
		RunE: app.score,
	})

	cmdPurge := &cobra.Command{
		Use:   "purge",
		Short: "delete a submission and all of its versions",
		Args:  cobra.NoArgs,
		RunE:  app.purge,
	}
	cmdPurge.Flags().String("user", "", "owner of the submission")
	cmdPurge.Flags().String("title", "", "title of the submission")
	_ = cmdPurge.MarkFlagRequired("user")
	_ = cmdPurge.MarkFlagRequired("title")
	root.AddCommand(cmdPurge)

	cmdToken := &cobra.Command{
		Use:   "token",
		Short: "mint a signed identity token for a user or service",
		Long: "   Signs a bearer token with JWT_SECRET and prints it.\n\n" +
			"   Example: reviewd token --user ingest-bot --ttl 720h",
		Args: cobra.NoArgs,
		RunE: app.token,
	}
	cmdToken.Flags().String("user", "", "subject of the token")
	cmdToken.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = cmdToken.MarkFlagRequired("user")
	root.AddCommand(cmdToken)

	return root
}

func (a *cli) load(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())
	return nil
}
