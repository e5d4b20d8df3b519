package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srilekha18-11/RAG/internal/tui"
	"github.com/srilekha18-11/RAG/internal/ui"
	"go.uber.org/zap"
)

var (
	chatUI       string
	chatSession  string
	chatProgress bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式问答模式",
	Long: `进入对话模式，基于论文语料库回答问题并列出引用。
输入 exit/quit 退出，clear 清空当前会话历史。使用 --session 恢复之前的会话。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var uiImpl ui.ChatUI
		quiet := false
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
			// 全屏界面运行时日志只写文件
			quiet = true
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		a, err := buildApp(ctx, quiet)
		if err != nil {
			return err
		}
		defer a.close()
		a.serveMetrics(ctx)

		sess, err := a.newSession(ctx, chatSession)
		if err != nil {
			return fmt.Errorf("创建会话失败: %w", err)
		}
		a.logger.Info("chat session started", zap.String("session_id", sess.ID()), zap.String("ui", chatUI))

		return uiImpl.Run(ctx, sess, ui.ChatOptions{ShowProgress: chatProgress})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "恢复指定 ID 的会话")
	chatCmd.Flags().BoolVar(&chatProgress, "progress", true, "显示流程执行到的阶段")
}
