package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/owl/internal/logging"
)

var (
	flagServer    string
	flagToken     string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking OWL_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("OWL_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the owl CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "owl",
		Short: "owl submits models to the Open Writing Leaderboard",
		Long:  "owl submits models for benchmarking and follows them through the evaluation queue.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			token := flagToken
			if token == "" {
				token = os.Getenv("OWL_TOKEN")
			}
			if token == "" {
				token = LoadToken()
			}
			client = NewClient(flagServer, token, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "owl server URL (or OWL_SERVER env)")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "Bearer token (or OWL_TOKEN env, or saved by login)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newLoginCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newCancelCmd(),
		newQueueCmd(),
		newLimitsCmd(),
		newLeaderboardCmd(),
		newSchemaCmd(),
	)

	return root
}
