// Package main implements the pairbot CLI: the pairing server and the
// operator commands that read what it produced.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"pairbot/internal/config"
)

var (
	// configPath is the optional YAML file layered under PAIRBOT_ env vars
	configPath string
	version    = "dev"
)

// exitError carries the process exit code decided by a finished session.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	err := rootCmd.Execute()
	var ee exitError
	switch {
	case err == nil:
	case errors.As(err, &ee):
		os.Exit(ee.code)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pairbot",
	Short: "Ephemeral messaging-bot session provisioner",
	Long: `pairbot links a phone number to a fresh bot session through a pairing code,
exports the resulting credentials to blob storage and tells the owner where to
find them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (PAIRBOT_* env vars override it)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}
