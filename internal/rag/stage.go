package rag

// Stage 标识 Graph 中的一个节点，路由决策的返回值也是 Stage
type Stage int

const (
	StageNone Stage = iota
	StagePreprocess
	StageRetrieve
	StageDocAnswer
	StageRoute
	StageKnowledge
	StageSynthesize
	StageFormat
	StageHandleError
)

// String 返回节点名，同时用作 Graph 中的 node key
func (s Stage) String() string {
	switch s {
	case StagePreprocess:
		return "preprocess_query"
	case StageRetrieve:
		return "retrieve_documents"
	case StageDocAnswer:
		return "generate_answer_from_docs"
	case StageRoute:
		return "decide_general_knowledge_route"
	case StageKnowledge:
		return "generate_general_knowledge"
	case StageSynthesize:
		return "synthesize_answers"
	case StageFormat:
		return "format_final_response"
	case StageHandleError:
		return "handle_error"
	default:
		return "none"
	}
}

// MarshalText 让 Stage 在 JSON 中以节点名出现
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
