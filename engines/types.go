package engines

import (
	"time"
)

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleSystem    ChatRole = "system"
	ChatRoleAssistant ChatRole = "assistant"
)

type Message struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

type StatisticsInfo struct {
	PromptTokens    int
	TokensGenerated int
}

type GenerationSettings struct {
	RawPrompt          string                     `json:"raw_prompt"`
	Temperature        float32                    `json:"temperature"`
	StopTokens         []string                   `json:"stop_tokens"`
	MaxTokens          int                        `json:"max_tokens"`
	StatisticsCallback func(info *StatisticsInfo) `json:"-"`
}

// RemoteEngine describes one inference backend an embedding worker talks to.
// Autodetection (see probe.go) fills Models, EmbeddingsDims and Accelerated.
type RemoteEngine struct {
	EndpointUrl           string
	EmbeddingsEndpointUrl string
	Protocol              string
	Token                 string
	MaxBatchSize          int

	Models          []string
	EmbeddingsModel string
	EmbeddingsDims  *uint64
	Accelerated     bool

	CompletionFailed bool
	EmbeddingsFailed bool
}

var InferenceTimeout = 600 * time.Second
