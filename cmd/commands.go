package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webmentions/internal/mention"
)

func newGatherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gather",
		Short: "Looks up incoming webmentions and queues outgoing ones",
		Long: `Refreshes the incoming webmentions cache from the discovery API and scans
every document for the URLs it mentions, queueing them for the send command.
A legacy sent/queued cache is upgraded first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Gather(cmd.Context())
			if err != nil {
				return fmt.Errorf("gather: %w", err)
			}
			out := cmd.OutOrStdout()
			if report.Migrated {
				fmt.Fprintln(out, "Upgraded the outgoing webmentions cache.")
			}
			if !report.Incoming.Skipped {
				fmt.Fprintf(out, "%d new webmentions cached across %d documents (%d throttled, %d failed).\n",
					report.Incoming.Added, report.Incoming.Documents, report.Incoming.Throttled, report.Incoming.Failed)
			}
			if !report.Outgoing.Skipped {
				fmt.Fprintf(out, "%d outgoing webmentions queued.\n", report.Outgoing.Queued)
			}
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Sends queued webmentions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Send(cmd.Context())
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d webmentions sent, %d attempted.\n", summary.Sent, summary.Attempted)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrades a legacy sent/queued cache to the outgoing format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			migrated, err := appInstance.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if migrated {
				fmt.Fprintln(cmd.OutOrStdout(), "Upgraded the outgoing webmentions cache.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to upgrade.")
			}
			return nil
		},
	}
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count DOCUMENT_URL [TYPE...]",
		Short: "Prints the number of cached webmentions for a document",
		Long: `Prints how many webmentions are cached for the site-relative DOCUMENT_URL.
Optional types (bookmarks, likes, links, posts, replies, reposts, rsvps)
restrict the count.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := mention.ParseFilter(args[1:])
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ledger, err := appInstance.Store().LoadIncoming(cmd.Context())
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ledger.Count(args[0], types))
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the webmention caches over a read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
