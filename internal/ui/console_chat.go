package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/srilekha18-11/RAG/internal/rag"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

var (
	promptColor    = color.New(color.FgGreen, color.Bold)
	assistantColor = color.New(color.FgCyan, color.Bold)
	progressColor  = color.New(color.FgHiBlack)
	citationColor  = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}
	if backend == nil {
		return fmt.Errorf("console ui: backend is nil")
	}

	reader := bufio.NewReader(in)

	fmt.Fprintf(out, "Session %s. Type exit/quit to leave, clear to reset history.\n", backend.ID())
	u.printHistory(backend)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Goodbye.")
			return nil
		default:
		}

		promptColor.Fprint(out, "You: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("read input: %w", err)
			}
			// 末行没有换行符时先处理它，下一次读取再退出
			if strings.TrimSpace(line) == "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Goodbye.")
				return nil
			}
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case IsExit(line):
			fmt.Fprintln(out, "Goodbye.")
			return nil
		case IsClear(line):
			backend.Clear()
			fmt.Fprintln(out, "History cleared.")
			continue
		}

		askCtx := ctx
		if opts.ShowProgress {
			askCtx = rag.WithStageObserver(ctx, func(stage rag.Stage, _ rag.State) {
				progressColor.Fprintf(out, "  %s\n", StageLabel(stage))
			})
		}

		res, err := backend.Ask(askCtx, line)
		if err != nil {
			errorColor.Fprintf(out, "Error: %v\n", err)
			continue
		}

		assistantColor.Fprint(out, "Assistant: ")
		fmt.Fprintln(out, res.Answer)
		if lines := FormatCitations(res.Citations); lines != nil {
			citationColor.Fprintln(out, "Citations:")
			for _, l := range lines {
				citationColor.Fprintf(out, "  %s\n", l)
			}
		}
		fmt.Fprintln(out)

		if ctx.Err() != nil {
			fmt.Fprintln(out, "Goodbye.")
			return nil
		}
	}
}

// printHistory 恢复会话时回显最近的对话
func (u *ConsoleChatUI) printHistory(backend ChatBackend) {
	turns := backend.Display()
	if len(turns) == 0 {
		return
	}
	fmt.Fprintln(u.Out, "Recent history:")
	for _, t := range turns {
		who := "You"
		if t.Role == rag.RoleAssistant {
			who = "Assistant"
		}
		fmt.Fprintf(u.Out, "  %s: %s\n", who, t.Text)
	}
	fmt.Fprintln(u.Out)
}
