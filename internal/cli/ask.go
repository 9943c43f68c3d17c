package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"dgchat/internal/chat"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	askThread  string
	askJSON    bool
	askSources bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question",
	Long: `Ask a single question and print the answer.

Pass --thread to continue an earlier conversation; without it every
invocation starts a new thread.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askThread, "thread", "t", "", "conversation thread id")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the answer and passages as JSON")
	askCmd.Flags().BoolVarP(&askSources, "sources", "s", false, "list the passages the answer was grounded on")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	svc, err := newServices(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	thread := askThread
	if thread == "" {
		thread = uuid.NewString()
	}

	ans, err := svc.Asker.Ask(cmd.Context(), strings.Join(args, " "), thread)
	if err != nil {
		return err
	}

	if askJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ThreadID string `json:"thread_id"`
			*chat.Answer
		}{thread, ans})
	}

	printAnswer(cmd, ans, askSources)
	cmd.Printf("(thread %s)\n", thread)
	return nil
}

func printAnswer(cmd *cobra.Command, ans *chat.Answer, sources bool) {
	cmd.Println(ans.Answer)
	if !sources || len(ans.Passages) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i, p := range ans.Passages {
		cmd.Printf("  %d. %s\n", i+1, sourceLabel(p))
	}
}

func sourceLabel(p chat.Passage) string {
	name, _ := p.Metadata["filename"].(string)
	if name == "" {
		name, _ = p.Metadata["source_id"].(string)
	}
	if page, ok := p.Metadata["page"]; ok {
		return fmt.Sprintf("%s (page %v)", name, page)
	}
	return name
}
