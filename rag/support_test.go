package rag

import (
	"context"
	"fmt"

	"github.com/BaSui01/neorag/llm"
	"github.com/BaSui01/neorag/llm/embedding"
)

// stubEmbedder 是可编程的嵌入网关替身。
// embedFn 把文本映射为向量；failOnCall >0 时第 N 次批量调用失败。
type stubEmbedder struct {
	embedFn    func(text string) []float64
	queryErr   error
	docsErr    error
	failOnCall int
	docsCalls  int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{
		embedFn: func(text string) []float64 {
			return []float64{float64(len(text)), 1, 0}
		},
	}
}

func (s *stubEmbedder) Embed(_ context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	resp := &embedding.EmbeddingResponse{Provider: s.Name()}
	for i, input := range req.Input {
		resp.Embeddings = append(resp.Embeddings, embedding.EmbeddingData{Index: i, Embedding: s.embedFn(input)})
	}
	return resp, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, query string) ([]float64, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.embedFn(query), nil
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, documents []string) ([][]float64, error) {
	s.docsCalls++
	if s.docsErr != nil {
		return nil, s.docsErr
	}
	if s.failOnCall > 0 && s.docsCalls >= s.failOnCall {
		return nil, fmt.Errorf("stub embedder: forced failure on call %d", s.docsCalls)
	}
	out := make([][]float64, len(documents))
	for i, doc := range documents {
		out[i] = s.embedFn(doc)
	}
	return out, nil
}

func (s *stubEmbedder) Name() string    { return "stub" }
func (s *stubEmbedder) Dimensions() int { return 3 }

// stubLLM 是可编程的 LLM 网关替身，handler 按提示词决定响应。
type stubLLM struct {
	handler func(prompt string) (string, error)
}

func newStubLLM(response string) *stubLLM {
	return &stubLLM{handler: func(string) (string, error) { return response, nil }}
}

func (s *stubLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}
	content, err := s.handler(prompt)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func (s *stubLLM) CompletePrompt(_ context.Context, prompt string) (string, error) {
	return s.handler(prompt)
}

func (s *stubLLM) Name() string { return "stub-llm" }

// stubRouter 是固定产出的路由器替身。
type stubRouter struct {
	result *RouterResult
	err    error
}

func (s *stubRouter) Route(_ context.Context, _ string, _ int) (*RouterResult, error) {
	return s.result, s.err
}

// emptyExtractionJSON 空抽取结果。
const emptyExtractionJSON = `{"nodes": [], "relationships": []}`
