package main

import (
	"errors"
	"fmt"
	"time"

	"mai-accounts/accountd/internal/account"

	"github.com/spf13/cobra"
)

func newAccountCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer stored accounts",
	}
	cmd.AddCommand(newAccountDeleteCommand(c))
	cmd.AddCommand(newAccountPruneCommand(c))
	cmd.AddCommand(newAccountClearCommand(c))
	cmd.AddCommand(newAccountStatsCommand(c))
	return cmd
}

func newAccountDeleteCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an account's profile and identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.accounts.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("%s (%w)", account.UserMessage(err), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newAccountPruneCommand(c *cli) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete accounts that were never confirmed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = c.cfg.Purge.PendingTTL
			}
			a, err := newApp(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.accounts.PrunePending(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d unconfirmed accounts older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Minimum age of an unconfirmed account (default purge.pending_ttl)")
	return cmd
}

func newAccountClearCommand(c *cli) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every account whose profile is not flagged admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear accounts without --yes")
			}
			a, err := newApp(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.accounts.ClearNonAdmin(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deleted %d accounts\n", res.Deleted)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  failed: %s\n", e)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d accounts could not be deleted", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}

func newAccountStatsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print account counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.accounts.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profiles=%d admin_profiles=%d identities=%d unconfirmed=%d\n",
				s.Profiles, s.AdminProfiles, s.Identities, s.UnconfirmedIdentities)
			return nil
		},
	}
}
