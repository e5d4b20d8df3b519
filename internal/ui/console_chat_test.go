package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/srilekha18-11/RAG/internal/rag"
	"github.com/srilekha18-11/RAG/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	history []rag.Turn
	asked   []string
	cleared int
	err     error
	stages  []rag.Stage
}

func (f *fakeBackend) ID() string { return "sess-1" }

func (f *fakeBackend) Ask(ctx context.Context, query string) (session.Result, error) {
	f.asked = append(f.asked, query)
	if f.err != nil {
		return session.Result{}, f.err
	}
	if obs := rag.StageObserverFrom(ctx); obs != nil {
		for _, s := range f.stages {
			obs(s, rag.State{})
		}
	}
	f.history = append(f.history, rag.Turn{Role: rag.RoleUser, Text: query}, rag.Turn{Role: rag.RoleAssistant, Text: "answer to " + query})
	return session.Result{
		Answer:    "answer to " + query,
		Citations: []rag.Citation{{Source: "paper1.pdf", Page: 4}},
	}, nil
}

func (f *fakeBackend) Display() []rag.Turn { return f.history }
func (f *fakeBackend) Clear() {
	f.cleared++
	f.history = nil
}

func runConsole(t *testing.T, backend ChatBackend, input string, opts ChatOptions) string {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader(input), Out: &out}
	require.NoError(t, u.Run(context.Background(), backend, opts))
	return out.String()
}

func TestConsole_AskAndExit(t *testing.T) {
	b := &fakeBackend{}
	out := runConsole(t, b, "\nWhat is concrete?\nexit\n", ChatOptions{})

	assert.Equal(t, []string{"What is concrete?"}, b.asked)
	assert.Contains(t, out, "Session sess-1.")
	assert.Contains(t, out, "Assistant: answer to What is concrete?")
	assert.Contains(t, out, "1. paper1.pdf, page 4")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Goodbye."))
}

func TestConsole_ClearAndQuit(t *testing.T) {
	b := &fakeBackend{history: []rag.Turn{{Role: rag.RoleUser, Text: "old"}}}
	out := runConsole(t, b, "clear\nQUIT\n", ChatOptions{})

	assert.Contains(t, out, "Recent history:")
	assert.Contains(t, out, "You: old")
	assert.Contains(t, out, "History cleared.")
	assert.Equal(t, 1, b.cleared)
	assert.Empty(t, b.asked)
}

func TestConsole_LastLineWithoutNewline(t *testing.T) {
	b := &fakeBackend{}
	out := runConsole(t, b, "final question", ChatOptions{})

	assert.Equal(t, []string{"final question"}, b.asked)
	assert.Contains(t, out, "Goodbye.")
}

func TestConsole_BackendErrorKeepsLoop(t *testing.T) {
	b := &fakeBackend{err: errors.New("boom")}
	out := runConsole(t, b, "q1\nq2\nexit\n", ChatOptions{})

	assert.Equal(t, []string{"q1", "q2"}, b.asked)
	assert.Equal(t, 2, strings.Count(out, "Error: boom"))
}

func TestConsole_ShowProgress(t *testing.T) {
	b := &fakeBackend{stages: []rag.Stage{rag.StagePreprocess, rag.StageFormat}}
	out := runConsole(t, b, "q\nexit\n", ChatOptions{ShowProgress: true})

	assert.Contains(t, out, "Executed: preprocess_query")
	assert.Contains(t, out, "Executed: format_final_response")
}

func TestConsole_NilIO(t *testing.T) {
	err := (&ConsoleChatUI{}).Run(context.Background(), &fakeBackend{}, ChatOptions{})
	assert.Error(t, err)
}

func TestFormatCitations(t *testing.T) {
	assert.Nil(t, FormatCitations(nil))
	assert.Equal(t, []string{"1. a.pdf, page 1", "2. b.pdf, page 9"},
		FormatCitations([]rag.Citation{{Source: "a.pdf", Page: 1}, {Source: "b.pdf", Page: 9}}))
}

func TestCommands(t *testing.T) {
	assert.True(t, IsExit(" Exit "))
	assert.True(t, IsExit("quit"))
	assert.False(t, IsExit("exit now"))
	assert.True(t, IsClear("CLEAR"))
	assert.False(t, IsClear("clear all"))
}
