package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cielo-chat-server/internal/cli/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示当前状态",
	Long: `显示服务器地址、健康状态以及本地保存的会话。`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "清除本地保存的会话和设置",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var resetSessionOnly bool

func init() {
	resetCmd.Flags().BoolVar(&resetSessionOnly, "session-only", false, "只清除会话，保留服务器设置")
	rootCmd.AddCommand(statusCmd, resetCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "服务器: %s\n", config.GetServerURL())
	if config.GetAdminToken() != "" {
		fmt.Fprintln(out, "管理令牌: 已设置")
	} else {
		fmt.Fprintln(out, "管理令牌: 未设置")
	}

	if health, err := newClient().Health(); err != nil {
		errorColor.Fprintf(out, "服务状态: 不可达 (%v)\n", err)
	} else {
		fmt.Fprintf(out, "服务状态: %s (database: %s, redis: %s)\n", health["status"], health["database"], health["redis"])
	}

	s := config.GetSession()
	if s == nil {
		fmt.Fprintln(out, "当前会话: 无")
		return nil
	}

	fmt.Fprintf(out, "当前会话: %s\n", s.ID)
	if s.StartedAt != 0 {
		fmt.Fprintf(out, "  开始于: %s\n", time.Unix(s.StartedAt, 0).Local().Format(time.DateTime))
	}
	if s.ExpiresAt != 0 {
		fmt.Fprintf(out, "  令牌过期: %s\n", time.Unix(s.ExpiresAt, 0).Local().Format(time.DateTime))
	}
	if config.ReusableSession(time.Now()) == nil {
		warnColor.Fprintln(out, "  已超过复用期，下次聊天将新建会话")
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	var err error
	if resetSessionOnly {
		err = config.ClearSession()
	} else {
		err = config.Reset()
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ 已清除")
	return nil
}
