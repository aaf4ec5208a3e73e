package main

import (
	"errors"
	"fmt"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"pairbot/internal/config"
	"pairbot/internal/repository"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum transitions to print (0 for all)")
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the recorded transitions of a session",
	Long: `Print the lifecycle transitions and the final outcome recorded for a
session. Requires aws.state_table (PAIRBOT_AWS_STATE_TABLE).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.AWS.StateTable == "" {
			return errors.New("aws.state_table is not configured")
		}
		awsCfg, err := loadAWS(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.AWS.StateTable)
		if err != nil {
			return err
		}

		recs, err := repo.History(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range recs {
			fmt.Fprintf(out, "%s  attempt=%d  %-22s %s\n", r.SK, r.Attempt, r.State, r.Detail)
		}

		sum, ok, err := repo.Summary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "session has not ended")
			return nil
		}
		fmt.Fprintf(out, "outcome=%s attempts=%d ended=%s reference=%s\n", sum.Outcome, sum.Attempts, sum.EndedAt, sum.Reference)
		return nil
	},
}
