package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version 在构建时通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

// newRootCmd 构建 Cobra 命令树。
// 返回：*cobra.Command 根命令。
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "wcfbridge",
		Short:         "将 wcf 消息流转换为会话平台事件",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "wcfbridge.yaml", "配置文件路径")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "连接 wcf websocket 并持续派发事件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Serve(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "replay <file.jsonl>",
		Short: "从 JSONL 文件回放原始消息",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Replay(cmd.Context(), args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "打印版本号",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version)
			return nil
		},
	})

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "wcfbridge:", err)
		stop()
		os.Exit(1)
	}
}
