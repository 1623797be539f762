package cli

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
)

func missing(err error) bool {
	var notFound viper.ConfigFileNotFoundError

	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}

func newResumableCmd(opts *rootOptions) *cobra.Command {
	var pipelineName string
	cmd := &cobra.Command{
		Use:   "resumable",
		Short: "list the paused and failed checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			cps, err := s.GetResumable(cmd.Context(), pipelineName)
			if err != nil {
				return err
			}

			return printCheckpoints(cmd.OutOrStdout(), opts.output, cps)
		},
	}
	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "only list the checkpoints of this pipeline")

	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <execution-id>",
		Short: "show the checkpoints of an execution, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			cps, err := s.GetAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				return errors.Wrapf(checkpoint.ErrNotFound, "execution %s", args[0])
			}

			return printCheckpoints(cmd.OutOrStdout(), opts.output, cps)
		},
	}
}

func newClaimCmd(opts *rootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "claim <checkpoint-id>",
		Short: "atomically move a resumable checkpoint out of the resumable statuses",
		Long:  `claim marks a paused or failed checkpoint so that no worker picks it up. It fails when another worker claimed it first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			cp, err := s.Claim(cmd.Context(), args[0], checkpoint.Status(status))
			if err != nil {
				return errors.Wrapf(err, "unable to claim %s", args[0])
			}

			return printCheckpoints(cmd.OutOrStdout(), opts.output, []*checkpoint.Checkpoint{cp})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(checkpoint.StatusInProgress), "status the checkpoint is moved to")

	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <execution-id>",
		Short: "delete every checkpoint of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err = s.DeleteAll(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted checkpoints of %s\n", args[0])

			return nil
		},
	}
}

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "delete the checkpoints older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.Checkpoint.Retention
			}
			removed, err := s.CleanupExpired(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d checkpoints older than %s\n", removed, olderThan)

			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of the checkpoints to delete (default is checkpoint.retention)")

	return cmd
}
