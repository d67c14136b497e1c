package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"timeline-rag-api/internal/interfaces/http/handler"
)

var askAttempts int

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with multi-step retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := bootApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ans, err := app.Reasoner.Ask(cmd.Context(), tenantID, strings.Join(args, " "), askAttempts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
		fmt.Fprintf(cmd.ErrOrStderr(), "(%s after %d iterations)\n", ans.State, ans.Iterations)
		return nil
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "List events ordered by time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, cleanup, err := bootApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		items, err := app.Timeline.List(cmd.Context(), tenantID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "no events")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTITLE\tDOCUMENT\tSUMMARY")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.Time, it.Title, it.Document, it.Summary)
		}
		return tw.Flush()
	},
}

var eventCmd = &cobra.Command{
	Use:   "event <title>",
	Short: "Show an event with its per-document details and relations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := bootApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		view, err := app.Timeline.Detail(cmd.Context(), tenantID, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", view.Title)
		for _, s := range view.Sections {
			fmt.Fprintf(out, "\n## %s  %s\n", s.Document, s.Time)
			printField(out, "摘要", s.Summary)
			printField(out, "人物思考", s.CharacterThought)
			printField(out, "作者观点", s.AuthorView)
		}
		if len(view.Related) > 0 {
			fmt.Fprintln(out, "\n关联事件:")
			for _, r := range view.Related {
				fmt.Fprintf(out, "  -> %s (%s)\n", r.Event, r.Relation)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the tenant's current processing status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, cleanup, err := bootApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		st, err := app.Data.Status.Read(cmd.Context(), tenantID)
		if err != nil {
			return err
		}
		label := handler.IdleStatus
		if st != nil {
			label = st.Label
		}
		fmt.Fprintln(cmd.OutOrStdout(), label)
		return nil
	},
}

func init() {
	askCmd.Flags().IntVar(&askAttempts, "max-attempts", 0, "reasoning iterations (0 uses agent.max_attempts)")
}

func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, value)
}
