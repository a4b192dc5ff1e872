package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/splithost/internal/journal"
	"github.com/roach88/splithost/internal/timer"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	DB      string
	Session string
}

// SessionDetail is a single session's log and transitions.
type SessionDetail struct {
	Session string                `json:"session"`
	Entries []timer.Entry         `json:"entries"`
	Events  []journal.EventRecord `json:"events"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect a session journal",
		Long: `List the sessions recorded in a journal, or print one session's log
entries and timer transitions.

Examples:
  splithost journal --db ./session.db
  splithost journal --db ./session.db --session 0190c2de-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the journal database (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to show")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.DB); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.DB))
	}
	st, err := journal.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	out := &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.Session == "" {
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list sessions", err)
		}
		if sessions == nil {
			sessions = []journal.Session{}
		}
		return out.Emit(sessions, func(w io.Writer) { writeSessions(w, sessions) })
	}

	entries, err := st.Entries(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read entries", err)
	}
	events, err := st.Events(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read events", err)
	}
	if len(entries) == 0 && len(events) == 0 {
		msg := fmt.Sprintf("session %s has no records", opts.Session)
		if err := out.Fail(CodeJournal, msg, nil, nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	detail := SessionDetail{Session: opts.Session, Entries: entries, Events: events}
	if detail.Entries == nil {
		detail.Entries = []timer.Entry{}
	}
	if detail.Events == nil {
		detail.Events = []journal.EventRecord{}
	}
	return out.Emit(detail, func(w io.Writer) { writeSessionDetail(w, detail) })
}

func writeSessions(w io.Writer, sessions []journal.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %s  (%d entries, %d events)\n",
			s.ID, s.StartedAt.Format(time.DateTime), humanize.Time(s.StartedAt), s.Entries, s.Events)
		if s.ModulePath != "" {
			fmt.Fprintf(w, "    %s\n", s.ModulePath)
		}
	}
}

func writeSessionDetail(w io.Writer, d SessionDetail) {
	fmt.Fprintf(w, "Session %s\n", d.Session)
	if len(d.Entries) > 0 {
		fmt.Fprintln(w, "\nLog:")
		for _, e := range d.Entries {
			fmt.Fprintf(w, "  %s [%s] %s\n", e.Clock(time.Local), e.Level, e.Message)
		}
	}
	if len(d.Events) > 0 {
		fmt.Fprintln(w, "\nTimer:")
		for _, ev := range d.Events {
			fmt.Fprintf(w, "  %s %-10s %s (split %d)\n", ev.Time.Format(time.TimeOnly), ev.Action, ev.Phase, ev.SplitIndex)
		}
	}
}
