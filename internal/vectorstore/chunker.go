package vectorstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/srilekha18-11/RAG/internal/rag"
)

// Chunk 是写入向量库的一个段落
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// SourcePathField 记录段落来自数据目录下的哪个文件，重新入库时按它删除旧段落
const SourcePathField = "source_path"

// Page 是源文件中的一页文本，PageNumber 从 1 开始
type Page struct {
	SourceFile string
	// SourcePath 为相对数据目录的路径，不同会议目录下的同名文件靠它区分；为空时使用 SourceFile
	SourcePath string
	PageNumber int
	Text       string
	// Conference 为空时使用 ChunkerConfig.ConferenceName
	Conference string
}

// Tokenizer 把文本编码为 token 序列，并能把任意连续片段解码回文本
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Encode(text string) []int { return t.encoding.Encode(text, nil, nil) }
func (t tiktokenTokenizer) Decode(tokens []int) string { return t.encoding.Decode(tokens) }

// NewTiktokenTokenizer 加载 cl100k_base，与 GPT-3.5/4 的分词一致
func NewTiktokenTokenizer() (Tokenizer, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get encoding: %w", err)
	}
	return tiktokenTokenizer{encoding: encoding}, nil
}

// ChunkerConfig 以 token 为单位
type ChunkerConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	ConferenceName string
	// Tokenizer 为空时使用 cl100k_base
	Tokenizer Tokenizer
}

// Chunker 按 token 滑动窗口切分每一页，段落不跨页
type Chunker struct {
	config    ChunkerConfig
	tokenizer Tokenizer
}

func NewChunker(config ChunkerConfig) (*Chunker, error) {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", config.ChunkOverlap, config.ChunkSize)
	}
	if config.ConferenceName == "" {
		config.ConferenceName = "Unknown Conference"
	}

	tokenizer := config.Tokenizer
	if tokenizer == nil {
		var err error
		if tokenizer, err = NewTiktokenTokenizer(); err != nil {
			return nil, err
		}
	}
	return &Chunker{config: config, tokenizer: tokenizer}, nil
}

// CountTokens 返回文本的 token 数
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text))
}

// ChunkPage 切分一页文本并附上检索需要的元数据
func (c *Chunker) ChunkPage(p Page) []Chunk {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil
	}

	conference := p.Conference
	if conference == "" {
		conference = c.config.ConferenceName
	}
	sourcePath := p.SourcePath
	if sourcePath == "" {
		sourcePath = p.SourceFile
	}
	tokens := c.tokenizer.Encode(text)
	step := c.config.ChunkSize - c.config.ChunkOverlap

	var chunks []Chunk
	for start, seq := 0, 1; start < len(tokens); start, seq = start+step, seq+1 {
		end := start + c.config.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		// 窗口边界可能切断多字节字符
		piece := strings.ToValidUTF8(c.tokenizer.Decode(tokens[start:end]), "")
		piece = strings.TrimSpace(piece)
		if piece != "" {
			chunks = append(chunks, Chunk{
				ID:   fmt.Sprintf("%s_p%d_c%d", sourcePath, p.PageNumber, seq),
				Text: piece,
				Metadata: map[string]string{
					"source_file":            p.SourceFile,
					SourcePathField:          sourcePath,
					rag.FilenameFilterField:  NormalizeFilename(p.SourceFile),
					"page_number":            strconv.Itoa(p.PageNumber),
					"chunk_type":             "text",
					"conference_name":        conference,
					"chunk_sequence_on_page": strconv.Itoa(seq),
				},
			})
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
