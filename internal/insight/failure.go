// Package insight asks a chat-completion runtime about a loaded table: which
// columns play which semantic role, and what the table says in plain words.
package insight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/KaramelBytes/csvlens/internal/ai"
)

// FailureKind tags why an LLM-backed feature produced nothing.
type FailureKind string

const (
	// KindNetwork covers unreachable endpoints, timeouts and cancellations.
	KindNetwork FailureKind = "network"
	// KindAuth covers a missing credential and 401/403 answers.
	KindAuth FailureKind = "auth"
	// KindStatus covers every other non-2xx answer.
	KindStatus FailureKind = "status"
	// KindDecode covers 2xx answers whose payload could not be understood.
	KindDecode FailureKind = "decode"
	// KindEmpty covers well-formed answers with no content.
	KindEmpty FailureKind = "empty"
)

// Failure is the tagged "no result" outcome of Infer and Summarize.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind) + " failure"
	}
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify wraps err in a Failure of the matching kind. A nil error yields nil
// and an existing Failure is returned unchanged.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var (
		decodeErr *ai.DecodeError
		unreach   *ai.UnreachableError
		apiErr    *ai.APIError
		netErr    net.Error
	)
	switch {
	case errors.Is(err, ai.ErrMissingCredential), ai.HasReason(err, ai.ReasonAuth):
		return &Failure{Kind: KindAuth, Err: err}
	case errors.As(err, &decodeErr):
		return &Failure{Kind: KindDecode, Err: err}
	case errors.As(err, &apiErr):
		return &Failure{Kind: KindStatus, Err: err}
	case errors.As(err, &unreach), errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Failure{Kind: KindNetwork, Err: err}
	}
	return &Failure{Kind: KindNetwork, Err: err}
}

// IsFailure reports whether err is a Failure, and of which kind.
func IsFailure(err error) (FailureKind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// complete sends req through rt, authenticating with credential when rt needs
// one, and returns the first choice's content. Every error is a *Failure.
func complete(ctx context.Context, rt ai.Runtime, credential string, req ai.GenerateRequest) (string, error) {
	if rt == nil {
		return "", &Failure{Kind: KindNetwork, Err: errors.New("no runtime configured")}
	}
	if cr, ok := rt.(ai.CredentialRuntime); ok {
		if strings.TrimSpace(credential) == "" {
			return "", &Failure{Kind: KindAuth, Err: ai.ErrMissingCredential}
		}
		rt = cr.WithCredential(strings.TrimSpace(credential))
	}
	resp, err := rt.Generate(ctx, req)
	if err != nil {
		return "", Classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &Failure{Kind: KindDecode, Err: errors.New("response has no choices")}
	}
	content := resp.Content()
	if strings.TrimSpace(content) == "" {
		return "", &Failure{Kind: KindEmpty, Err: errors.New("response content is empty")}
	}
	return content, nil
}
