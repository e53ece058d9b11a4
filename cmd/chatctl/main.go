// Package main 是 chatctl 命令行工具的入口
package main

import "cielo-chat-server/internal/cli/cmd"

func main() {
	cmd.Execute()
}
