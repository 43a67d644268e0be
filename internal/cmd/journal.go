package cmd

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/journal"
)

var (
	journalTitle       string
	journalCommit      string
	journalSummary     string
	journalContentFile string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Record development sessions",
}

var journalAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a session to the journal and update index.md",
	Long: `Append a structured session entry to the active journal file,
rotating to a new part when the configured line limit would be exceeded,
and regenerate the auto-maintained blocks in index.md.

Details are read from --content-file when given, otherwise from stdin
when it is piped.`,
	RunE: runJournalAdd,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalAddCmd)

	journalAddCmd.Flags().StringVar(&journalTitle, "title", "", "session title (required)")
	journalAddCmd.Flags().StringVar(&journalCommit, "commit", "", "comma-separated commit hashes")
	journalAddCmd.Flags().StringVar(&journalSummary, "summary", "", "brief summary")
	journalAddCmd.Flags().StringVar(&journalContentFile, "content-file", "", "file with detailed content")
	_ = journalAddCmd.MarkFlagRequired("title")
}

func runJournalAdd(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	log := newLogger(cfg)
	defer log.Close()

	details := ""
	switch {
	case journalContentFile != "":
		if data, err := os.ReadFile(journalContentFile); err == nil {
			details = string(data)
		}
	case !term.IsTerminal(int(os.Stdin.Fd())):
		if data, err := io.ReadAll(cmd.InOrStdin()); err == nil {
			details = string(data)
		}
	}

	recorder := journal.NewRecorder(repoRoot(), cfg, log, cmd.OutOrStdout())
	_, err := recorder.Add(journal.Options{
		Title:   journalTitle,
		Commit:  journalCommit,
		Summary: journalSummary,
		Details: details,
	}, time.Now())
	return err
}
