package main

import (
	"fmt"
	"os"

	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"pairbot/internal/config"
	"pairbot/internal/integrations/mega"
	"pairbot/internal/integrations/paramstore"
)

var fetchOut string

func init() {
	fetchCmd.Flags().StringVar(&fetchOut, "out", "store.db", "destination file for the credential bundle")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <reference>",
	Short: "Download an exported credential bundle",
	Long: `Download the credential bundle behind a reference sent to the owner.

Examples:
  pairbot fetch 'AbCd1234#xyz789' --out ./session/store.db
  pairbot fetch 'https://mega.nz/file/AbCd1234#xyz789'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		awsCfg, err := loadAWS(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return err
		}
		blobs, err := mega.NewClient(params, cfg.AWS.ParamPrefix)
		if err != nil {
			return err
		}

		data, err := blobs.Download(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := os.WriteFile(fetchOut, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", fetchOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), fetchOut)
		return nil
	},
}
