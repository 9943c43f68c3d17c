package cli

import (
	"bufio"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatThread  string
	chatSources bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Each line is a question; the
thread history is kept between questions so follow-ups can refer back.

Type "quit" or "exit" to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatThread, "thread", "t", "", "resume an existing thread")
	chatCmd.Flags().BoolVarP(&chatSources, "sources", "s", false, "list sources after each answer")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	svc, err := newServices(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	thread := chatThread
	if thread == "" {
		thread = uuid.NewString()
	}
	cmd.Printf("thread %s\n", thread)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	cmd.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
		case "quit", "exit":
			return nil
		default:
			ans, err := svc.Asker.Ask(cmd.Context(), line, thread)
			if err != nil {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
				cmd.PrintErrf("error: %v\n", err)
				break
			}
			printAnswer(cmd, ans, chatSources)
		}
		cmd.Print("> ")
	}
	return scanner.Err()
}
