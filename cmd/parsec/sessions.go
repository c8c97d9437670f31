package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions stored.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLAST ACTIVE\tCONVERSATIONS\tCOMMANDS\tTITLE\tDIRECTORY")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				s.ID, s.LastActive.Local().Format(time.DateTime), s.ConversationCount, s.CommandCount, s.Title, s.WorkingDirectory)
		}
		return w.Flush()
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions and finished conversations past their retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := st.PruneOldContext(cmd.Context(), retentionPolicy(cfg))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d sessions and %d conversations.\n", res.Sessions, res.Conversations)
		return nil
	},
}
