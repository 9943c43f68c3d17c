package cli

import (
	"errors"

	"dgchat/internal/ingest"

	"github.com/spf13/cobra"
)

var (
	ingestDir       string
	ingestRecursive bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Load documents into the index",
	Long: `Load documents into the index. PDF files are read page by page,
Markdown files as dangerous goods list tables and text files as DGL
object dumps.

Files that fail to load are reported and skipped; the rest are still
indexed.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestDir, "dir", "d", "", "ingest every supported file in a directory")
	ingestCmd.Flags().BoolVarP(&ingestRecursive, "recursive", "r", false, "descend into subdirectories of --dir")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && ingestDir == "" {
		return errors.New("nothing to ingest: pass file paths or --dir")
	}

	svc, err := newServices(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	var total ingest.Report
	if ingestDir != "" {
		r, err := svc.Ingester.IngestDir(cmd.Context(), ingestDir, ingestRecursive)
		if err != nil {
			return err
		}
		total = addReport(total, r)
	}
	if len(args) > 0 {
		r, err := svc.Ingester.Ingest(cmd.Context(), args)
		if err != nil {
			return err
		}
		total = addReport(total, r)
	}

	for _, f := range total.Failures {
		cmd.PrintErrf("skipped: %v\n", f)
	}
	cmd.Printf("%d files ingested, %d failed, %d chunks added\n", total.Succeeded, total.Failed, total.ChunksAdded)
	return nil
}

func addReport(a, b ingest.Report) ingest.Report {
	a.Succeeded += b.Succeeded
	a.Failed += b.Failed
	a.ChunksAdded += b.ChunksAdded
	a.Failures = append(a.Failures, b.Failures...)
	return a
}
