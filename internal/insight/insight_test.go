package insight

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/csvlens/internal/ai"
	"github.com/KaramelBytes/csvlens/internal/analysis"
)

// fakeRuntime records requests and answers with a canned reply or error.
type fakeRuntime struct {
	reply    string
	err      error
	requests []ai.GenerateRequest
	keys     []string
	key      string
	parent   *fakeRuntime
}

func (f *fakeRuntime) Generate(_ context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	root := f
	if f.parent != nil {
		root = f.parent
	}
	root.requests = append(root.requests, req)
	root.keys = append(root.keys, f.key)
	if root.err != nil {
		return nil, root.err
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: root.reply}}}}, nil
}

func (f *fakeRuntime) WithCredential(key string) ai.Runtime {
	return &fakeRuntime{key: key, parent: f}
}

func surveyTable(t *testing.T, rows ...string) *analysis.Table {
	t.Helper()
	lines := append([]string{"Question,Rating,Completion (%),Motivator"}, rows...)
	tbl, err := analysis.LoadCSV(strings.NewReader(strings.Join(lines, "\n")), "survey.csv", analysis.DefaultOptions())
	require.NoError(t, err)
	return tbl
}

func TestInferSendsJSONModeAndBearer(t *testing.T) {
	rt := &fakeRuntime{reply: `{"RATING": "Rating", "CATEGORY": "Question"}`}
	m := NewRoleMapper(rt, "llama")
	ra, err := m.Infer(context.Background(), []string{"Question", "Rating"}, " hf_token ")
	require.NoError(t, err)

	require.Len(t, rt.requests, 1)
	req := rt.requests[0]
	assert.Equal(t, "llama", req.Model)
	assert.Equal(t, ai.JSONObject, req.ResponseFormat)
	assert.Equal(t, []string{"hf_token"}, rt.keys)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, `["Question","Rating"]`)
	for _, r := range Roles {
		assert.Contains(t, prompt, string(r)+":")
	}

	assert.Equal(t, `{"RATING": "Rating", "CATEGORY": "Question"}`, ra.Raw)
	assert.Equal(t, map[Role]string{RoleRating: "Rating", RoleCategory: "Question"}, ra.Proposed)
}

func TestInferMissingCredentialIsAuthFailure(t *testing.T) {
	rt := &fakeRuntime{reply: "{}"}
	_, err := NewRoleMapper(rt, "m").Infer(context.Background(), []string{"a"}, "")
	kind, ok := IsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindAuth, kind)
	assert.Empty(t, rt.requests, "no request without a credential")
}

func TestInferFailureKinds(t *testing.T) {
	cases := []struct {
		name string
		rt   *fakeRuntime
		want FailureKind
	}{
		{"unauthorized", &fakeRuntime{err: &ai.APIError{StatusCode: 401, Reason: ai.ReasonAuth}}, KindAuth},
		{"server", &fakeRuntime{err: &ai.APIError{StatusCode: 503, Reason: ai.ReasonServer}}, KindStatus},
		{"plain status", &fakeRuntime{err: &ai.APIError{StatusCode: 418, Reason: ai.ReasonOther}}, KindStatus},
		{"rate limited", &fakeRuntime{err: &ai.APIError{StatusCode: 429, Reason: ai.ReasonRateLimit}}, KindStatus},
		{"unreachable", &fakeRuntime{err: &ai.UnreachableError{Host: "x", Err: errors.New("refused")}}, KindNetwork},
		{"timeout", &fakeRuntime{err: context.DeadlineExceeded}, KindNetwork},
		{"bad body", &fakeRuntime{err: &ai.DecodeError{Err: errors.New("eof")}}, KindDecode},
		{"not json", &fakeRuntime{reply: "RATING is Score"}, KindDecode},
		{"json array", &fakeRuntime{reply: `["Score"]`}, KindDecode},
		{"blank", &fakeRuntime{reply: "  \n"}, KindEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ra, err := NewRoleMapper(tc.rt, "m").Infer(context.Background(), []string{"Score"}, "key")
			assert.Nil(t, ra)
			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tc.want, f.Kind)
		})
	}
}

func TestInferUnreachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: cannot open local listener (%v)", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	client := ai.NewClientWithBaseURL("", time.Second, 1, 0, 0, "http://"+addr)
	_, err = NewRoleMapper(client, "m").Infer(context.Background(), []string{"a"}, "invalid-token")
	kind, ok := IsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, kind)
}

func TestParseAssignmentToleratesFencesAndCase(t *testing.T) {
	ra, err := ParseAssignment("```json\n{\"rating\": \"Score\", \"Metric\": null, \"CATEGORY\": \"\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, map[Role]string{RoleRating: "Score"}, ra.Proposed)
}

func TestResolveRejectsHallucinations(t *testing.T) {
	ra, err := ParseAssignment(`{"RATING":"Rating","METRIC":"Completion","CATEGORY":7,"MOTIVATOR":"Motivator","COLOR":"Red"}`)
	require.NoError(t, err)

	res := ra.Resolve([]string{"Question", "Rating", "Completion (%)", "Motivator"})
	assert.Equal(t, map[Role]string{RoleRating: "Rating", RoleMotivator: "Motivator"}, res.Roles)
	assert.Equal(t, []Rejection{
		{Role: "METRIC", Value: "Completion", Reason: ReasonUnknownColumn},
		{Role: "CATEGORY", Value: "7", Reason: ReasonNotString},
		{Role: "COLOR", Value: `"Red"`, Reason: ReasonUnknownRole},
	}, res.Rejected)

	col, ok := res.Column(RoleRating)
	assert.True(t, ok)
	assert.Equal(t, "Rating", col)
	_, ok = res.Column(RoleMetric)
	assert.False(t, ok)

	var nilRA *RoleAssignment
	assert.Empty(t, nilRA.Resolve([]string{"a"}).Roles)
}

func TestSummarizePromptAndVerbatimText(t *testing.T) {
	rt := &fakeRuntime{reply: "1. Salary leads.\n2. ...\n"}
	s := NewSummarizer(rt, "llama")
	tbl := surveyTable(t, "Q1,4.5,80,Salary", "Q2,3,70,Culture")

	text, err := s.Summarize(context.Background(), tbl, "survey.csv", "key")
	require.NoError(t, err)
	assert.Equal(t, "1. Salary leads.\n2. ...\n", text)

	require.Len(t, rt.requests, 1)
	req := rt.requests[0]
	assert.Nil(t, req.ResponseFormat)
	prompt := req.Messages[0].Content
	assert.True(t, strings.HasPrefix(prompt, "Analyze this specific dataset: survey.csv. Data sample: "))
	assert.True(t, strings.HasSuffix(prompt, ". Summarize the top 3 insights."))
	assert.Contains(t, prompt, tbl.Head(5).String())
}

func TestSummarizeMissingCredentialSendsNothing(t *testing.T) {
	rt := &fakeRuntime{reply: "1. insight"}
	text, err := NewSummarizer(rt, "m").Summarize(context.Background(), surveyTable(t, "Q1,4,80,Salary"), "survey.csv", "  ")
	assert.Empty(t, text)
	kind, ok := IsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindAuth, kind)
	assert.Empty(t, rt.requests)
}

func TestSummarizeEmptyTableStillRequests(t *testing.T) {
	rt := &fakeRuntime{reply: "nothing to see"}
	tbl := surveyTable(t)
	require.Equal(t, 0, tbl.Rows())

	text, err := NewSummarizer(rt, "m").Summarize(context.Background(), tbl, "empty.csv", "key")
	require.NoError(t, err)
	assert.Equal(t, "nothing to see", text)
	require.Len(t, rt.requests, 1)
	assert.Contains(t, rt.requests[0].Messages[0].Content, "Empty DataFrame")
}

func TestSummarizeNon2xxYieldsNoText(t *testing.T) {
	rt := &fakeRuntime{err: &ai.APIError{StatusCode: 500, Reason: ai.ReasonServer}}
	text, err := NewSummarizer(rt, "m").Summarize(context.Background(), surveyTable(t), "x.csv", "key")
	assert.Empty(t, text)
	kind, ok := IsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindStatus, kind)
	assert.Len(t, rt.requests, 1)
}

func TestSummarizeTokenLimitTrimsSample(t *testing.T) {
	rt := &fakeRuntime{reply: "ok"}
	s := &Summarizer{Runtime: rt, Model: "m", SampleRows: 5, TokenLimit: 4}
	_, err := s.Summarize(context.Background(), surveyTable(t, "Q1,4.5,80,Salary"), "x.csv", "key")
	require.NoError(t, err)
	prompt := rt.requests[0].Messages[0].Content
	sample := strings.TrimSuffix(strings.TrimPrefix(prompt, "Analyze this specific dataset: x.csv. Data sample: "), ". Summarize the top 3 insights.")
	assert.LessOrEqual(t, len([]rune(sample)), 16)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	f := &Failure{Kind: KindEmpty}
	assert.Same(t, f, Classify(f))
	assert.Equal(t, KindAuth, Classify(ai.ErrMissingCredential).Kind)
	assert.Equal(t, KindStatus, Classify(&ai.APIError{StatusCode: 402, Reason: ai.ReasonQuota}).Kind)
	assert.Contains(t, Classify(errors.New("boom")).Error(), "network failure: boom")
}
