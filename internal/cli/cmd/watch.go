package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cielo-chat-server/internal/cli/websocket"
)

var watchCmd = &cobra.Command{
	Use:   "watch <sessionId>",
	Short: "实时查看会话的新消息",
	Long: `通过 WebSocket 订阅会话的新消息，按 Ctrl+C 退出。

需要管理令牌（--admin-token 或配置文件）。`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	wsClient := websocket.NewClient(newClient().WebSocketURL(args[0]))

	wsClient.OnMessage(func(msg *websocket.Message) {
		switch msg.Type {
		case websocket.TypeChatMessage:
			m, err := websocket.DecodeChatMessage(msg)
			if err != nil {
				warnColor.Fprintf(out, "⚠️  无法解析消息: %v\n", err)
				return
			}
			printChatLine(out, m.CreatedAt.Local().Format("15:04:05"), m.SenderRole, m.Message)
		case websocket.TypeError:
			warnColor.Fprintf(out, "⚠️  服务端错误: %s\n", string(msg.Payload))
		}
	})

	if err := wsClient.Connect(); err != nil {
		return err
	}
	defer wsClient.Disconnect()

	fmt.Fprintf(out, "正在观察会话 %s (按 Ctrl+C 退出)\n", args[0])

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-wsClient.Done():
		warnColor.Fprintln(out, "连接已断开")
	}
	return nil
}
