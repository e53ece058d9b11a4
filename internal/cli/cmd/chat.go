package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cielo-chat-server/internal/cli/api"
	"cielo-chat-server/internal/cli/config"
	"cielo-chat-server/internal/cli/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "与助手交互式聊天",
	Long: `开始交互式聊天。

24 小时内会继续使用上次的会话（经服务端校验），否则创建新会话。
输入 /exit 或 /quit 退出，/new 开始新会话。`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "通过当前会话发送一条消息",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var chatIdentity struct {
	email string
	name  string
	role  string
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, sendCmd} {
		c.Flags().StringVar(&chatIdentity.email, "email", "", "新建会话时的邮箱")
		c.Flags().StringVar(&chatIdentity.name, "name", "", "新建会话时的姓名")
		c.Flags().StringVar(&chatIdentity.role, "role", "", "新建会话时的角色 (visitor/tenant/employee/admin)")
		rootCmd.AddCommand(c)
	}
}

func newSessionManager() *session.Manager {
	m := session.NewManager(newClient(), config.GetLocale())
	m.SetIdentity(chatIdentity.email, chatIdentity.name, chatIdentity.role)
	return m
}

func runChat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	m := newSessionManager()

	if _, err := m.Ensure(); err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}
	printGreeting(out, m)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		userColor.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		text := scanner.Text()
		switch strings.TrimSpace(text) {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			if err := config.ClearSession(); err != nil {
				return err
			}
			m = newSessionManager()
			if _, err := m.Ensure(); err != nil {
				return fmt.Errorf("创建会话失败: %w", err)
			}
			printGreeting(out, m)
			continue
		}

		resp, err := m.Send(text)
		if err != nil {
			errorColor.Fprintf(out, "✗ 发送失败: %v\n", err)
			continue
		}
		printReply(out, resp)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	m := newSessionManager()
	resp, err := m.Send(strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("发送失败: %w", err)
	}
	printReply(cmd.OutOrStdout(), resp)
	return nil
}

func printGreeting(out io.Writer, m *session.Manager) {
	s := config.GetSession()
	if m.Resumed() {
		warnColor.Fprintf(out, "继续会话 %s\n", s.ID)
	} else {
		warnColor.Fprintf(out, "新会话 %s\n", s.ID)
	}
	if g := m.Greeting(); g != "" {
		assistantColor.Fprint(out, "Cielo: ")
		fmt.Fprintln(out, g)
	}
}

func printReply(out io.Writer, resp *api.SendMessageResponse) {
	assistantColor.Fprint(out, "Cielo: ")
	fmt.Fprintln(out, resp.Reply)
	if resp.Degraded {
		warnColor.Fprintf(out, "(助手暂不可用: %s)\n", resp.ErrorCode)
	}
}
