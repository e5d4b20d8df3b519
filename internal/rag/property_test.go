package rag

import (
	"context"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// 任意网关行为组合下，流程都应在终止节点结束并给出非空答案
func TestAnswer_TerminalInvariants(t *testing.T) {
	restrictedJSON := `{"explicit_filenames": ["paper1.pdf"], "external_knowledge_forbidden": true, "retrieval_query": "x", "value_query_intent": {"is_value_query": false, "type": "none", "details": ""}}`
	valueJSON := `{"explicit_filenames": null, "external_knowledge_forbidden": false, "retrieval_query": "x", "value_query_intent": {"is_value_query": true, "type": "data_points", "details": ""}}`

	preprocessReplies := []reply{
		{text: preprocessPaperJSON},
		{text: preprocessGeneralJSON},
		{text: restrictedJSON},
		{text: valueJSON},
		{text: "not json"},
		{err: errGatewayDown},
	}
	docReplies := []reply{
		{text: paperDocAnswer},
		{text: "A conclusive answer with no markers."},
		{text: "The provided documents do not contain sufficient information to answer this query."},
		{text: ""},
		{err: errGatewayDown},
	}
	necessityReplies := []reply{
		{text: necessityYesJSON},
		{text: necessityNoJSON},
		{text: "garbage"},
		{err: errGatewayDown},
	}
	textReplies := []reply{
		{text: "Some generated text."},
		{text: ""},
		{err: errGatewayDown},
	}
	retrievers := []func() *fakeRetriever{
		func() *fakeRetriever {
			return &fakeRetriever{passages: []Passage{passage("paper1.pdf", 4, "42 MPa")}}
		},
		func() *fakeRetriever { return &fakeRetriever{} },
		func() *fakeRetriever { return &fakeRetriever{err: errGatewayDown} },
	}

	rapid.Check(t, func(rt *rapid.T) {
		gen := newFakeGenerator(map[Stage]reply{
			StagePreprocess: rapid.SampledFrom(preprocessReplies).Draw(rt, "preprocess"),
			StageDocAnswer:  rapid.SampledFrom(docReplies).Draw(rt, "doc"),
			StageRoute:      rapid.SampledFrom(necessityReplies).Draw(rt, "necessity"),
			StageKnowledge:  rapid.SampledFrom(textReplies).Draw(rt, "knowledge"),
			StageSynthesize: rapid.SampledFrom(textReplies).Draw(rt, "synthesize"),
		})
		ret := rapid.SampledFrom(retrievers).Draw(rt, "retriever")()

		o, err := New(context.Background(), ret, gen, Options{})
		if err != nil {
			rt.Fatalf("new: %v", err)
		}
		out, err := o.Answer(context.Background(), "What is the tensile strength?", nil)
		if err != nil {
			rt.Fatalf("answer: %v", err)
		}

		if strings.TrimSpace(out.FinalAnswer) == "" {
			rt.Fatalf("empty final answer, trail %v", out.Trail)
		}
		last := out.Trail[len(out.Trail)-1]
		if last != StageFormat && last != StageHandleError {
			rt.Fatalf("pass ended at %v", last)
		}
		if out.Citations == nil {
			rt.Fatalf("citations must be an empty list, not nil")
		}
		if ret.calls > 1 {
			rt.Fatalf("retrieval called %d times", ret.calls)
		}
		for _, st := range []Stage{StagePreprocess, StageDocAnswer, StageRoute, StageKnowledge, StageSynthesize} {
			if n := gen.count(st); n > 1 {
				rt.Fatalf("%v called %d times", st, n)
			}
		}
		if out.KnowledgeRestricted && gen.count(StageKnowledge) > 0 {
			rt.Fatalf("knowledge consulted although restricted")
		}
		if out.HasError() && !readsAsError(out.FinalAnswer) {
			rt.Fatalf("error %q not surfaced in %q", out.ErrorMessage(), out.FinalAnswer)
		}
		if len(out.Citations) > 0 {
			fromDocs := out.DocAnswer != nil && out.FinalAnswer == *out.DocAnswer
			fromSynth := out.SynthesizedAnswer != nil && out.FinalAnswer == *out.SynthesizedAnswer
			if !fromDocs && !fromSynth {
				rt.Fatalf("citations %v attached to non-document answer %q", out.Citations, out.FinalAnswer)
			}
		}
	})
}
