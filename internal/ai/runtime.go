package ai

import "context"

// Runtime is implemented by chat-completion backends: any OpenAI-compatible
// router or a local Ollama daemon.
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// CredentialRuntime is a Runtime that authenticates each call with a bearer
// token supplied by the caller.
type CredentialRuntime interface {
	Runtime
	WithCredential(key string) Runtime
}

// Provider identifiers accepted by --provider and the provider config key.
const (
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderOpenRouter  = "openrouter"
	ProviderOllama      = "ollama"
	ProviderLocal       = "local"
)

// OpenRouterBaseURL is used when the openrouter provider is chosen without a base URL.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"
