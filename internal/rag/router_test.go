package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideRoute(t *testing.T) {
	conclusive := "The value is 42 MPa [Source: a.pdf, Page: 1]."
	inconclusive := "The provided documents do not contain sufficient information to answer this query."
	errMsg := "Error retrieving documents: boom"

	tests := []struct {
		name          string
		state         State
		necessity     reply
		want          Stage
		wantFinal     string
		wantCompare   bool
		wantNecessity int
	}{
		{
			name:  "error wins over everything",
			state: State{Error: &errMsg, KnowledgeRestricted: true, DocAnswer: &conclusive},
			want:  StageHandleError,
		},
		{
			name:      "restricted with doc answer",
			state:     State{KnowledgeRestricted: true, DocAnswer: &inconclusive, DocSearchPerformed: true, RequiresDocSearch: true},
			want:      StageFormat,
			wantFinal: inconclusive,
		},
		{
			name:      "restricted without doc answer",
			state:     State{KnowledgeRestricted: true},
			want:      StageFormat,
			wantFinal: MsgRestrictedCannotAnswer,
		},
		{
			name:  "expected search came back inconclusive",
			state: State{DocSearchPerformed: true, RequiresDocSearch: true, DocAnswer: &inconclusive},
			want:  StageKnowledge,
		},
		{
			name:  "no search and no doc answer",
			state: State{},
			want:  StageKnowledge,
		},
		{
			name:          "conclusive and sufficient",
			state:         State{DocSearchPerformed: true, RequiresDocSearch: true, DocAnswer: &conclusive},
			necessity:     reply{text: necessityNoJSON},
			want:          StageFormat,
			wantFinal:     conclusive,
			wantNecessity: 1,
		},
		{
			name:          "conclusive but enrichable",
			state:         State{DocSearchPerformed: true, RequiresDocSearch: true, DocAnswer: &conclusive},
			necessity:     reply{text: necessityYesJSON},
			want:          StageKnowledge,
			wantCompare:   true,
			wantNecessity: 1,
		},
		{
			name:          "necessity check fails",
			state:         State{DocSearchPerformed: true, RequiresDocSearch: true, DocAnswer: &conclusive},
			necessity:     reply{err: errGatewayDown},
			want:          StageKnowledge,
			wantCompare:   NecessityFallbackNeedsKnowledge,
			wantNecessity: 1,
		},
		{
			name:      "unexpected inconclusive doc answer goes to format",
			state:     State{DocSearchPerformed: true, DocAnswer: &inconclusive},
			want:      StageFormat,
			wantFinal: inconclusive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGenerator(map[Stage]reply{StageRoute: tt.necessity})
			o := newTestOrchestrator(t, &fakeRetriever{}, gen)

			out, next := o.decideRoute(context.Background(), tt.state)
			assert.Equal(t, tt.want, next)
			assert.Equal(t, tt.wantFinal, out.FinalAnswer)
			assert.Equal(t, tt.wantCompare, out.ShouldCompare)
			assert.Equal(t, tt.wantNecessity, gen.count(StageRoute))
			assert.Equal(t, tt.state.Error, out.Error)
		})
	}
}

func TestSelectAnswer(t *testing.T) {
	doc := "Doc answer [Source: a.pdf, Page: 1]."
	bad := "The provided documents do not contain sufficient information to answer this query."
	know := "Knowledge answer."
	cites := []Citation{{Source: "a.pdf", Page: 1}}

	out := selectAnswer(State{DocAnswer: &doc, KnowledgeAnswer: &know, Citations: cites})
	assert.Equal(t, doc, out.FinalAnswer)
	assert.Equal(t, cites, out.Citations)

	out = selectAnswer(State{DocAnswer: &bad, KnowledgeAnswer: &know, Citations: cites})
	assert.Equal(t, know, out.FinalAnswer)
	assert.Empty(t, out.Citations)

	out = selectAnswer(State{DocAnswer: &bad})
	assert.Equal(t, MsgNoConclusiveAnswer, out.FinalAnswer)

	out = selectAnswer(State{FinalAnswer: "kept"})
	assert.Equal(t, "kept", out.FinalAnswer)
}

func TestFormat_FallbackOrder(t *testing.T) {
	o := newTestOrchestrator(t, &fakeRetriever{}, newFakeGenerator(nil))
	ctx := context.Background()
	doc := "Doc answer."
	bad := "I cannot answer this."
	know := "Knowledge answer."
	synth := "Synthesized."

	out := o.format(ctx, State{SynthesizedAnswer: &synth, DocAnswer: &doc})
	assert.Equal(t, synth, out.FinalAnswer)

	out = o.format(ctx, State{DocAnswer: &doc, KnowledgeAnswer: &know})
	assert.Equal(t, doc, out.FinalAnswer)

	out = o.format(ctx, State{DocAnswer: &bad, KnowledgeAnswer: &know, Citations: []Citation{{Source: "a", Page: 1}}})
	assert.Equal(t, know, out.FinalAnswer)
	assert.Empty(t, out.Citations)

	out = o.format(ctx, State{DocAnswer: &bad})
	assert.Equal(t, bad, out.FinalAnswer)

	out = o.format(ctx, State{})
	assert.Equal(t, MsgUnableToProcess, out.FinalAnswer)

	errMsg := "Error synthesizing answers: boom"
	out = o.format(ctx, State{Error: &errMsg, FinalAnswer: "partial", Citations: []Citation{{Source: "a", Page: 1}}})
	assert.Equal(t, "An error occurred: "+errMsg, out.FinalAnswer)
	assert.Empty(t, out.Citations)

	out = o.format(ctx, State{Error: &errMsg, FinalAnswer: "I apologize, an error occurred: x"})
	assert.Equal(t, "I apologize, an error occurred: x", out.FinalAnswer)
}

func TestHandleError(t *testing.T) {
	o := newTestOrchestrator(t, &fakeRetriever{}, newFakeGenerator(nil))
	errMsg := "Error retrieving documents: boom"

	out := o.handleError(context.Background(), State{Error: &errMsg, Citations: []Citation{{Source: "a", Page: 1}}})
	require.NotNil(t, out.Citations)
	assert.Empty(t, out.Citations)
	assert.Equal(t, "I apologize, an error occurred: "+errMsg, out.FinalAnswer)

	out = o.handleError(context.Background(), State{})
	assert.Equal(t, "I apologize, an error occurred: An unknown error occurred during processing.", out.FinalAnswer)
}
