package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cielo-chat-server/internal/cli/api"
	"cielo-chat-server/pkg/util"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "列出聊天会话",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var conversationCmd = &cobra.Command{
	Use:   "conversation <sessionId>",
	Short: "查看会话的全部消息",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversation,
}

var closeCmd = &cobra.Command{
	Use:   "close <sessionId>",
	Short: "关闭会话，关闭后访客需新建会话",
	Args:  cobra.ExactArgs(1),
	RunE:  runClose,
}

var listFlags struct {
	limit  int
	offset int
	role   string
}

func init() {
	sessionsCmd.Flags().IntVar(&listFlags.limit, "limit", 0, "每页数量 (默认 50，最大 200)")
	sessionsCmd.Flags().IntVar(&listFlags.offset, "offset", 0, "偏移量")
	sessionsCmd.Flags().StringVar(&listFlags.role, "role", "", "按角色过滤")

	rootCmd.AddCommand(sessionsCmd, conversationCmd, closeCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	list, err := newClient().ListSessions(listFlags.limit, listFlags.offset, listFlags.role)
	if err != nil {
		return fmt.Errorf("获取会话列表失败: %w", err)
	}
	printSessions(cmd.OutOrStdout(), list)
	return nil
}

func printSessions(out io.Writer, list *api.SessionList) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tMESSAGES\tCREATED")
	for _, s := range list.Sessions {
		status := "active"
		if !s.IsActive {
			status = "closed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			util.StringOr(s.UserName, "Anonymous"),
			util.StringOr(s.UserEmail, "-"),
			s.UserRole,
			status,
			s.MessageCount,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\n共 %d 个会话 (offset %d, limit %d)\n", list.Total, list.Offset, list.Limit)
}

func runConversation(cmd *cobra.Command, args []string) error {
	messages, err := newClient().GetConversation(args[0])
	if err != nil {
		return fmt.Errorf("获取对话失败: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(messages) == 0 {
		fmt.Fprintln(out, "没有消息")
		return nil
	}
	for _, m := range messages {
		printChatLine(out, m.CreatedAt.Local().Format("15:04:05"), m.SenderRole, m.Message)
	}
	return nil
}

func runClose(cmd *cobra.Command, args []string) error {
	if err := newClient().CloseSession(args[0]); err != nil {
		return fmt.Errorf("关闭会话失败: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ 会话 %s 已关闭\n", args[0])
	return nil
}

func printChatLine(out io.Writer, at, role, text string) {
	fmt.Fprintf(out, "[%s] ", at)
	if role == "user" {
		userColor.Fprint(out, "user: ")
	} else {
		assistantColor.Fprintf(out, "%s: ", role)
	}
	fmt.Fprintln(out, text)
}
