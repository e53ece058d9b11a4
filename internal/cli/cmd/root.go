// Package cmd 实现 chatctl 命令
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cielo-chat-server/internal/cli/api"
	"cielo-chat-server/internal/cli/config"
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Cielo Vista 聊天助手命令行工具",
	Long: `chatctl 是 Cielo Vista 聊天服务的命令行客户端。

访客命令：chat、send
管理命令：sessions、conversation、watch、close（需要管理令牌）

配置保存在 ~/.cielo-chat/config.yaml。`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// 全局参数
var (
	serverFlag     string
	adminTokenFlag string
	configDirFlag  string
)

// 输出样式
var (
	assistantColor = color.New(color.FgCyan, color.Bold)
	userColor      = color.New(color.FgGreen, color.Bold)
	warnColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "服务器地址 (默认: http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&adminTokenFlag, "admin-token", "", "管理接口令牌")
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "配置目录 (默认: ~/.cielo-chat)")
}

func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configDirFlag != "" {
		err = config.InitAt(configDirFlag)
	} else {
		err = config.Init()
	}
	if err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	// 命令行参数只对本次运行生效
	if serverFlag != "" {
		config.SetServerURL(serverFlag)
	}
	if adminTokenFlag != "" {
		config.SetAdminToken(adminTokenFlag)
	}
	return nil
}

// newClient 按当前配置创建 API 客户端
func newClient() *api.Client {
	return api.NewClient(config.GetServerURL(), config.GetAdminToken())
}
