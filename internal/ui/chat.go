package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/srilekha18-11/RAG/internal/rag"
	"github.com/srilekha18-11/RAG/internal/session"
)

// ChatBackend 是界面依赖的会话能力，*session.Session 实现了它
type ChatBackend interface {
	ID() string
	Ask(ctx context.Context, query string) (session.Result, error)
	Display() []rag.Turn
	Clear()
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// ShowProgress 在流程运行时逐个打印已执行的阶段
	ShowProgress bool
}

// 会话内命令
const (
	CmdExit  = "exit"
	CmdQuit  = "quit"
	CmdClear = "clear"
)

// IsExit 判断输入是否为退出命令
func IsExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case CmdExit, CmdQuit:
		return true
	}
	return false
}

// IsClear 判断输入是否为清空历史命令
func IsClear(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), CmdClear)
}

// FormatCitations 把引用渲染为列表行，无引用时返回 nil
func FormatCitations(citations []rag.Citation) []string {
	if len(citations) == 0 {
		return nil
	}
	out := make([]string, 0, len(citations))
	for i, c := range citations {
		out = append(out, fmt.Sprintf("%d. %s, page %d", i+1, c.Source, c.Page))
	}
	return out
}

// StageLabel 返回进度展示用的阶段名
func StageLabel(stage rag.Stage) string {
	return "Executed: " + stage.String()
}
