package llm

import "context"

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is a raw chat-completion call against a model provider. The
// decision stages build structured prompts on top of it.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}
