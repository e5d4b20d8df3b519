package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srilekha18-11/RAG/internal/session"
	"github.com/srilekha18-11/RAG/internal/ui"
)

var (
	askJSON    bool
	askSession string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "回答一个问题后退出",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := buildApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		sess, err := a.newSession(ctx, askSession)
		if err != nil {
			return fmt.Errorf("创建会话失败: %w", err)
		}

		res, err := sess.Ask(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if askJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&askJSON, "json", false, "以 JSON 输出完整的流程状态")
	askCmd.Flags().StringVar(&askSession, "session", "", "在指定会话的历史上继续提问")
}

func printResult(w io.Writer, res session.Result) {
	fmt.Fprintln(w, res.Answer)
	if lines := ui.FormatCitations(res.Citations); lines != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Citations:")
		for _, l := range lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}

type askOutput struct {
	TraceID string `json:"trace_id"`
	Answer  string `json:"answer"`
	State   any    `json:"state"`
	Error   string `json:"critical_error,omitempty"`
}

func writeJSON(w io.Writer, res session.Result) error {
	out := askOutput{TraceID: res.TraceID, Answer: res.Answer, State: res.State}
	if res.Critical != nil {
		out.Error = res.Critical.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
