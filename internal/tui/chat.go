package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/srilekha18-11/RAG/internal/rag"
	"github.com/srilekha18-11/RAG/internal/session"
	"github.com/srilekha18-11/RAG/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	if backend == nil {
		return fmt.Errorf("tui: backend is nil")
	}
	m := newChatModel(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type chatMessage struct {
	role      rag.Role
	content   string
	citations []rag.Citation
}

type backendResultMsg struct {
	result session.Result
	err    error
}

// stageMsg 携带流程执行到的阶段；ok 为 false 表示本轮进度已结束
type stageMsg struct {
	stage rag.Stage
	ok    bool
}

type streamTickMsg struct{}
type cancelMsg struct{}

var stdioMu sync.Mutex

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions

	messages []chatMessage

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool
	lastStage  string
	progress   chan rag.Stage

	streaming  bool
	streamIdx  int
	streamPos  int
	streamFull string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "Ask a question, Enter to send (exit/quit, clear)"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	var messages []chatMessage
	for _, t := range backend.Display() {
		messages = append(messages, chatMessage{role: t.Role, content: t.Text})
	}

	return chatModel{
		ctx:        ctx,
		backend:    backend,
		opts:       opts,
		messages:   messages,
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight - 1
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight

		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case stageMsg:
		if !msg.ok {
			return m, nil
		}
		m.lastStage = ui.StageLabel(msg.stage)
		return m, waitProgress(m.progress)

	case backendResultMsg:
		m = m.applyResult(msg)
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+32)
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		if msg.String() == "enter" {
			if m.thinking {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			return m.submit(text)
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit 处理一行输入：会话命令直接执行，其余交给后端
func (m chatModel) submit(text string) (chatModel, tea.Cmd) {
	switch {
	case text == "":
		return m, nil
	case ui.IsExit(text):
		return m, tea.Quit
	case ui.IsClear(text):
		m.backend.Clear()
		m.messages = nil
		m.streaming = false
		m.streamIdx = -1
		m.updateViewportContent(m.renderChat())
		return m, nil
	}

	m.messages = append(m.messages, chatMessage{role: rag.RoleUser, content: text})
	m.followTail = true
	m.thinking = true
	m.lastStage = ""
	m.updateViewportContent(m.renderChat())

	m.progress = make(chan rag.Stage, 16)
	return m, tea.Batch(
		invokeBackend(m.ctx, m.backend, text, m.progress, m.opts.ShowProgress),
		waitProgress(m.progress),
		m.spinner.Tick,
	)
}

func (m chatModel) applyResult(msg backendResultMsg) chatModel {
	m.thinking = false
	m.lastStage = ""
	m.followTail = true

	reply := chatMessage{role: rag.RoleAssistant}
	if msg.err != nil {
		reply.content = fmt.Sprintf("Error: %v", msg.err)
	} else {
		reply.content = msg.result.Answer
		reply.citations = msg.result.Citations
	}
	m.messages = append(m.messages, reply)
	m.startStreaming(len(m.messages) - 1)
	return m
}

func (m chatModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("RAG Chat")

	chat := m.viewport.View()
	inputLine := m.inputView()
	footer := m.footerView()

	return lipgloss.JoinVertical(lipgloss.Left, header, chat, inputLine, footer)
}

func (m chatModel) footerView() string {
	left := "Enter send | PgUp/PgDn scroll | Ctrl+C quit"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " Thinking..."
		if m.lastStage != "" {
			right = m.spinner.View() + " " + m.lastStage
		}
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render(""), right))
}

func (m chatModel) inputView() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
	return box
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func invokeBackend(ctx context.Context, backend ui.ChatBackend, query string, progress chan<- rag.Stage, showProgress bool) tea.Cmd {
	return func() tea.Msg {
		defer close(progress)
		if showProgress {
			ctx = rag.WithStageObserver(ctx, func(stage rag.Stage, _ rag.State) {
				// 界面跟不上时丢弃进度，不阻塞流程
				select {
				case progress <- stage:
				default:
				}
			})
		}
		res, err := askDiscardingStdIO(ctx, backend, query)
		return backendResultMsg{result: res, err: err}
	}
}

func waitProgress(ch <-chan rag.Stage) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		stage, ok := <-ch
		return stageMsg{stage: stage, ok: ok}
	}
}

// askDiscardingStdIO 在流程运行期间屏蔽 stdout/stderr，避免第三方库的输出破坏界面
func askDiscardingStdIO(ctx context.Context, backend ui.ChatBackend, query string) (session.Result, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return backend.Ask(ctx, query)
	}
	defer devNull.Close()

	stdioMu.Lock()
	oldStdout := os.Stdout
	oldStderr := os.Stderr
	os.Stdout = devNull
	os.Stderr = devNull
	stdioMu.Unlock()

	res, askErr := backend.Ask(ctx, query)

	stdioMu.Lock()
	os.Stdout = oldStdout
	os.Stderr = oldStderr
	stdioMu.Unlock()

	return res, askErr
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m *chatModel) startStreaming(idx int) {
	m.streaming = false
	m.streamIdx = -1
	if idx < 0 || idx >= len(m.messages) {
		return
	}
	content := m.messages[idx].content
	if strings.TrimSpace(content) == "" {
		return
	}
	m.streaming = true
	m.streamIdx = idx
	m.streamFull = content
	m.streamPos = min(len(content), 32)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}

	var b strings.Builder
	for i, msg := range m.messages {
		content := msg.content
		streamingThis := m.streaming && m.streamIdx == i
		if streamingThis {
			content = m.streamFull[:m.streamPos]
			if strings.TrimSpace(content) == "" {
				content = "…"
			}
		}
		content = strings.TrimRight(content, "\n")

		var line string
		if msg.role == rag.RoleUser {
			line = m.renderUser(content)
		} else {
			line = m.renderAssistant(content)
			// 引用在回答完整显示后再出现
			if !streamingThis {
				if c := m.renderCitations(msg.citations); c != "" {
					line += "\n" + c
				}
			}
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	w := maxLineWidth(s)
	w = max(10, w)
	return min(m.bubbleMaxContentWidth(), w)
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	maxW := 0
	for _, line := range strings.Split(s, "\n") {
		if w := lipgloss.Width(strings.TrimRight(line, " ")); w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) renderAssistant(content string) string {
	md := content
	if m.renderer != nil && strings.TrimSpace(md) != "" {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderCitations(citations []rag.Citation) string {
	lines := ui.FormatCitations(citations)
	if lines == nil {
		return ""
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")).
		PaddingLeft(2).
		Render("Citations:\n" + strings.Join(lines, "\n"))
}
