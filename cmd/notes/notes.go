package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"notesync/store"
)

var addCmd = &cobra.Command{
	Use:   "add <content...>",
	Short: "Create a note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newNoteService(nil).Create(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n.ClientID)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id> <content...>",
	Short: "Replace the content of a note",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = newNoteService(nil).Update(cmd.Context(), id, strings.Join(args[1:], " "))
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a note",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return newNoteService(nil).Delete(cmd.Context(), id)
	},
}

var lsJSON bool

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List notes, most recently edited first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, err := newNoteService(nil).List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if lsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(notes)
		}
		if len(notes) == 0 {
			fmt.Fprintln(out, "No notes yet.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSERVER\tSYNCED\tUPDATED\tCONTENT")
		for _, n := range notes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortID(n.ClientID), serverID(n), yesNo(n.Synced), formatMillis(n.Updated), preview(n.Content, 40))
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one note and its queued changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		svc := newNoteService(nil)
		n, err := svc.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		ops, err := svc.Pending(cmd.Context(), id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:       %s\n", n.ClientID)
		fmt.Fprintf(out, "server:   %s\n", serverID(n))
		fmt.Fprintf(out, "created:  %s\n", formatMillis(n.Created))
		fmt.Fprintf(out, "updated:  %s\n", formatMillis(n.Updated))
		fmt.Fprintf(out, "synced:   %s\n", yesNo(n.Synced))
		for _, op := range ops {
			fmt.Fprintf(out, "pending:  #%d %s\n", op.ID, op.Type)
		}
		fmt.Fprintf(out, "\n%s\n", n.Content)
		return nil
	},
}

func init() {
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Print notes as JSON")

	rootCmd.AddCommand(addCmd, editCmd, rmCmd, lsCmd, showCmd)
}

func serverID(n store.Note) string {
	if n.ServerID == nil {
		return "-"
	}
	return fmt.Sprint(*n.ServerID)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
