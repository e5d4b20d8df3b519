package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/srilekha18-11/RAG/internal/metrics"
	"github.com/srilekha18-11/RAG/internal/rag"
	"github.com/srilekha18-11/RAG/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	state rag.State
	err   error

	histories [][]rag.Turn
	traceIDs  []string
}

func (f *fakeAnswerer) Answer(ctx context.Context, query string, history []rag.Turn) (rag.State, error) {
	f.histories = append(f.histories, history)
	f.traceIDs = append(f.traceIDs, rag.GetTraceID(ctx))
	if f.err != nil {
		return rag.State{}, f.err
	}
	st := f.state
	st.OriginalQuery = query
	return st, nil
}

type countingRecorder struct {
	outcomes []string
}

func (r *countingRecorder) IncAnswer(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func openStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "session.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func docState() rag.State {
	return rag.State{
		ProcessedQuery:     "tensile strength",
		DocSearchPerformed: true,
		RetrievedPassages:  []rag.Passage{{Content: "42 MPa"}},
		FinalAnswer:        "42 MPa [Source: paper1.pdf, Page: 4]",
		Citations:          []rag.Citation{{Source: "paper1.pdf", Page: 4}},
		Trail:              []rag.Stage{rag.StagePreprocess, rag.StageRetrieve, rag.StageDocAnswer, rag.StageRoute, rag.StageFormat},
	}
}

func TestAsk_AppendsAfterCompletion(t *testing.T) {
	ans := &fakeAnswerer{state: docState()}
	rec := &countingRecorder{}
	s, err := New(ans, Options{Recorder: rec})
	require.NoError(t, err)

	res, err := s.Ask(context.Background(), "  What is the strength?  ")
	require.NoError(t, err)
	assert.Equal(t, "42 MPa [Source: paper1.pdf, Page: 4]", res.Answer)
	assert.Equal(t, []rag.Citation{{Source: "paper1.pdf", Page: 4}}, res.Citations)
	assert.NotEmpty(t, res.TraceID)
	assert.Equal(t, res.TraceID, ans.traceIDs[0])
	assert.Empty(t, ans.histories[0])

	_, err = s.Ask(context.Background(), "Follow up")
	require.NoError(t, err)
	require.Len(t, ans.histories[1], 2)
	assert.Equal(t, rag.Turn{Role: rag.RoleUser, Text: "What is the strength?"}, ans.histories[1][0])
	assert.Equal(t, rag.RoleAssistant, ans.histories[1][1].Role)

	assert.Len(t, s.History(), 4)
	assert.Equal(t, []string{OutcomeSuccess, OutcomeSuccess}, rec.outcomes)
}

func TestAsk_HistoryPassedIsACopy(t *testing.T) {
	ans := &fakeAnswerer{state: docState()}
	s, err := New(ans, Options{})
	require.NoError(t, err)

	_, err = s.Ask(context.Background(), "one")
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), "two")
	require.NoError(t, err)

	ans.histories[1][0].Text = "mutated"
	assert.Equal(t, "one", s.History()[0].Text)
}

func TestAsk_EmptyQuery(t *testing.T) {
	ans := &fakeAnswerer{}
	s, err := New(ans, Options{})
	require.NoError(t, err)

	_, err = s.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, rag.ErrEmptyQuery)
	assert.Empty(t, ans.histories)
	assert.Empty(t, s.History())
}

func TestAsk_CriticalErrorBecomesAssistantTurn(t *testing.T) {
	ans := &fakeAnswerer{err: errors.New("graph exploded")}
	rec := &countingRecorder{}
	store := openStore(t)
	s, err := New(ans, Options{ID: "s-crit", Store: store, Recorder: rec})
	require.NoError(t, err)

	res, err := s.Ask(context.Background(), "Anything")
	require.NoError(t, err)
	assert.EqualError(t, res.Critical, "graph exploded")
	assert.Equal(t, "Sorry, a critical error occurred: graph exploded", res.Answer)
	assert.NotNil(t, res.Citations)

	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, "Anything", h[0].Text)
	assert.Equal(t, res.Answer, h[1].Text)
	assert.Equal(t, []string{OutcomeCritical}, rec.outcomes)

	recs, err := store.QueryRecords(context.Background(), storage.RecordQuery{SessionID: "s-crit"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, storage.StatusFailed, recs[0].Status)
	assert.Equal(t, "graph exploded", recs[0].ErrorMessage)
}

func TestAsk_DegradedPassCounted(t *testing.T) {
	msg := "Error retrieving documents: down"
	st := docState()
	st.Error = &msg
	rec := &countingRecorder{}
	s, err := New(&fakeAnswerer{state: st}, Options{Recorder: rec})
	require.NoError(t, err)

	_, err = s.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeDegraded}, rec.outcomes)
}

func TestAsk_OutcomeLabelsExported(t *testing.T) {
	msg := "Error retrieving documents: down"
	st := docState()
	st.Error = &msg
	reg := prometheus.NewRegistry()
	s, err := New(&fakeAnswerer{state: st}, Options{Recorder: metrics.New(reg)})
	require.NoError(t, err)

	_, err = s.Ask(context.Background(), "q")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `rag_answers_total{outcome="degraded"} 1`)
}

func TestAsk_PersistsTurnsAndRecord(t *testing.T) {
	store := openStore(t)
	s, err := New(&fakeAnswerer{state: docState()}, Options{ID: "s1", Store: store})
	require.NoError(t, err)

	res, err := s.Ask(context.Background(), "What is the strength?")
	require.NoError(t, err)

	ctx := context.Background()
	turns, err := store.ListTurns(ctx, storage.TurnQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, res.TraceID, turns[1].TraceID)

	recs, err := store.QueryRecords(ctx, storage.RecordQuery{TraceID: res.TraceID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, storage.StatusSuccess, r.Status)
	assert.Equal(t, "tensile strength", r.ProcessedQuery)
	assert.Equal(t, 1, r.PassageCount)
	assert.True(t, r.DocSearchPerformed)
	assert.Equal(t, "preprocess_query,retrieve_documents,generate_answer_from_docs,decide_general_knowledge_route,format_final_response", r.Trail)

	var cites []rag.Citation
	require.NoError(t, json.Unmarshal([]byte(r.CitationsJSON), &cites))
	assert.Equal(t, res.Citations, cites)
}

func TestLoadResumesHistory(t *testing.T) {
	store := openStore(t)
	first, err := New(&fakeAnswerer{state: docState()}, Options{ID: "resume", Store: store})
	require.NoError(t, err)
	_, err = first.Ask(context.Background(), "one")
	require.NoError(t, err)
	_, err = first.Ask(context.Background(), "two")
	require.NoError(t, err)

	ans := &fakeAnswerer{state: docState()}
	second, err := New(ans, Options{ID: "resume", Store: store})
	require.NoError(t, err)
	require.NoError(t, second.Load(context.Background(), 10))
	assert.Equal(t, first.History(), second.History())

	_, err = second.Ask(context.Background(), "three")
	require.NoError(t, err)
	assert.Len(t, ans.histories[0], 4)
}

func TestDisplayAndClear(t *testing.T) {
	s, err := New(&fakeAnswerer{state: docState()}, Options{DisplayTurns: 3})
	require.NoError(t, err)
	for _, q := range []string{"a", "b", "c"} {
		_, err := s.Ask(context.Background(), q)
		require.NoError(t, err)
	}

	shown := s.Display()
	require.Len(t, shown, 3)
	assert.Equal(t, "c", shown[1].Text)

	s.Clear()
	assert.Empty(t, s.History())
	assert.Empty(t, s.Display())
}

func TestNew_RequiresAnswerer(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}
