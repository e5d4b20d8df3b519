package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srilekha18-11/RAG/internal/storage"
)

// historyCmd 管理会话历史与问答记录
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "管理会话历史与问答记录",
	Long:  `提供查看数据库概况、列出与查看会话、清理旧记录的命令。`,
}

var historyInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runHistoryInfo,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "按最近活动时间列出会话",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "显示一个会话的对话记录",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "删除一个会话的对话记录",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "清理旧的问答记录与对话",
	Long:  `根据保留条数或天数清理问答记录；指定 --days 时同时清理更早的对话。`,
	RunE:  runHistoryPrune,
}

var (
	listLimit int
	showLimit int
	keepCount int
	keepDays  int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyInfoCmd, historyListCmd, historyShowCmd, historyDeleteCmd, historyPruneCmd)

	historyListCmd.Flags().IntVar(&listLimit, "limit", 20, "最多列出的会话数")
	historyShowCmd.Flags().IntVar(&showLimit, "limit", 50, "最多显示的消息数")
	historyPruneCmd.Flags().IntVar(&keepCount, "keep", 0, "保留最近的 N 条问答记录")
	historyPruneCmd.Flags().IntVar(&keepDays, "days", 0, "保留最近 N 天的记录")
}

func runHistoryInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	info, err := os.Stat(dbPath)
	switch {
	case cfg.Storage.InMemory:
		dbSizeStr = "In memory"
	case os.IsNotExist(err):
		dbSizeStr = "Not Found (Will be created on first run)"
	case err != nil:
		dbSizeStr = fmt.Sprintf("Error: %v", err)
	default:
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, dbPath)
	}

	store, err := openStorage(ctx)
	if err != nil {
		fmt.Fprintf(out, "Database File: %s\n", dbSizeStr)
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	turns, err := store.CountChatTurns(ctx)
	if err != nil {
		return err
	}
	records, err := store.CountQueryRecords(ctx)
	if err != nil {
		return err
	}
	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Database File: %s\n\n", dbSizeStr)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "ChatTurns\t%d\n", turns)
	fmt.Fprintf(w, "QueryRecords\t%d\n", records)
	fmt.Fprintf(w, "Sessions (recent)\t%d\n", len(sessions))
	return w.Flush()
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStorage(ctx)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx, listLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Session\tMessages\tLast Activity")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.SessionID, s.Turns, s.LastAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStorage(ctx)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	turns, err := store.ListTurns(ctx, storage.TurnQuery{SessionID: args[0], Limit: showLimit})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintf(out, "No messages in session %s.\n", args[0])
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(out, "[%d] %s (%s)\n%s\n\n", t.Seq, t.Role, t.CreatedAt.Local().Format(time.DateTime), t.Text)
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStorage(ctx)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	n, err := store.DeleteSession(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages from session %s.\n", n, args[0])
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	policy := storage.RetentionPolicy{KeepRecords: keepCount, MaxAge: time.Duration(keepDays) * 24 * time.Hour}
	if !policy.Enabled() {
		// 未指定参数时使用配置中的策略
		policy = cfg.History.Retention
	}
	if !policy.Enabled() {
		_ = cmd.Usage()
		return fmt.Errorf("must specify either --keep or --days (or configure history.retention)")
	}

	ctx := context.Background()
	out := cmd.OutOrStdout()
	store, err := openStorage(ctx)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	fmt.Fprintf(out, "Pruning history (keep records: %d, max age: %s)...\n", policy.KeepRecords, policy.MaxAge)
	res, err := store.Prune(ctx, policy, time.Now())
	if err != nil {
		return fmt.Errorf("清理失败: %w", err)
	}

	fmt.Fprintf(out, "Prune completed. Deleted %d query records and %d messages.\n", res.QueryRecords, res.ChatTurns)
	if count, err := store.CountQueryRecords(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Query Records: %d\n", count)
	}
	return nil
}
