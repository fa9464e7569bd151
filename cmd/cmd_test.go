package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const surveyCSV = `Question,Rating,Completion (%),Motivator
Q1,4.5,80,Salary
Q2,3.0,70,Culture
Q1,3.5,90,Salary
Q3,2.0,65,Growth
`

// isolate points HOME at a temp dir and clears env that would leak into config.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"CSVLENS_API_KEY", "HF_TOKEN", "OPENROUTER_API_KEY", "CSVLENS_BASE_URL", "CSVLENS_PROVIDER", "CSVLENS_MODEL"} {
		t.Setenv(k, "")
	}
	cfg = nil
	return home
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(fl *pflag.Flag) {
		_ = fl.Value.Set(fl.DefValue)
		fl.Changed = false
	})
}

// runCmd executes the root command with args and returns what it printed.
func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	// Flag values and Changed state persist across Execute calls.
	resetFlags(rootCmd.PersistentFlags())
	resetFlags(analyzeCmd.Flags())
	resetFlags(serveCmd.Flags())
	cfg = nil

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func writeSurvey(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "survey.csv")
	require.NoError(t, os.WriteFile(p, []byte(surveyCSV), 0o644))
	return p
}

func newIPv4Server(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeMarkdown(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	out, _, err := runCmd(t, "analyze", p, "--metric", "Rating", "--label", "Question")
	require.NoError(t, err)
	assert.Contains(t, out, "[TOP FACTORS] average Rating by Question")
	assert.Contains(t, out, "1. Q1: 4 (n=2)")
	assert.Contains(t, out, "2. Q2: 3 (n=1)")
	assert.Contains(t, out, "[DISTRIBUTION] Rating")
	assert.NotContains(t, out, "[ROLES]")
}

func TestAnalyzeDefaultsToFirstChoices(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	out, _, err := runCmd(t, "analyze", p)
	require.NoError(t, err)
	// first numeric column by first non-numeric column
	assert.Contains(t, out, "average Rating by Question")
}

func TestAnalyzeJSON(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	out, _, err := runCmd(t, "analyze", p, "--format", "json", "--metric", "Completion (%)", "--label", "Motivator", "--limit", "2")
	require.NoError(t, err)

	var doc struct {
		Rows int `json:"rows"`
		Top  struct {
			Rows []struct {
				Label string   `json:"label"`
				Mean  *float64 `json:"mean"`
			} `json:"rows"`
		} `json:"top_factors"`
		Schema struct {
			Numeric []string `json:"numeric"`
		} `json:"schema"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, 4, doc.Rows)
	assert.Equal(t, []string{"Rating", "Completion (%)"}, doc.Schema.Numeric)
	require.Len(t, doc.Top.Rows, 2)
	assert.Equal(t, "Salary", doc.Top.Rows[0].Label)
	require.NotNil(t, doc.Top.Rows[0].Mean)
	assert.InDelta(t, 85.0, *doc.Top.Rows[0].Mean, 1e-9)
	assert.Equal(t, "Culture", doc.Top.Rows[1].Label)
}

func TestAnalyzeChartsDir(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)
	dir := filepath.Join(home, "charts", "out")

	_, errOut, err := runCmd(t, "analyze", p, "--charts-dir", dir)
	require.NoError(t, err)
	for _, name := range []string{"histogram.svg", "top-factors.svg"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(b), "<svg", name)
		assert.Contains(t, errOut, name)
	}
}

func TestAnalyzeRejectsUnknownColumns(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	_, _, err := runCmd(t, "analyze", p, "--metric", "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown metric column "Nope"`)

	_, _, err = runCmd(t, "analyze", p, "--format", "xml")
	require.Error(t, err)

	_, _, err = runCmd(t, "analyze", filepath.Join(home, "missing.csv"))
	require.Error(t, err)
}

func TestAnalyzeSemicolonDecimalComma(t *testing.T) {
	home := isolate(t)
	p := filepath.Join(home, "eu.csv")
	require.NoError(t, os.WriteFile(p, []byte("Team;Score\nA;1,5\nB;2,5\nA;3,5\n"), 0o644))

	out, _, err := runCmd(t, "analyze", p, "--delimiter", ";", "--decimal", "comma")
	require.NoError(t, err)
	assert.Contains(t, out, "average Score by Team")
	assert.Contains(t, out, "1. A: 2.5 (n=2)")
}

func TestAnalyzeRolesGuideSelection(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	var auth string
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"RATING\":\"Completion (%)\",\"MOTIVATOR\":\"Motivator\",\"METRIC\":null,\"CATEGORY\":\"Ghost\"}"}}]}`))
	}))
	t.Setenv("CSVLENS_BASE_URL", srv.URL)
	t.Setenv("CSVLENS_API_KEY", "hf_secret")

	out, errOut, err := runCmd(t, "analyze", p, "--roles")
	require.NoError(t, err)
	assert.Equal(t, "Bearer hf_secret", auth)
	assert.Contains(t, out, "[ROLES]")
	assert.Contains(t, out, "- RATING: Completion (%)")
	assert.Contains(t, out, "- MOTIVATOR: Motivator")
	assert.NotContains(t, out, "Ghost")
	assert.Contains(t, errOut, "unknown column")
	// RATING hints the metric, MOTIVATOR the label
	assert.Contains(t, out, "average Completion (%) by Motivator")
}

func TestAnalyzeRolesFailureIsNotFatal(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	t.Setenv("CSVLENS_BASE_URL", srv.URL)
	t.Setenv("CSVLENS_API_KEY", "k")

	out, errOut, err := runCmd(t, "analyze", p, "--roles")
	require.NoError(t, err)
	assert.Contains(t, errOut, "role mapping unavailable")
	assert.Contains(t, out, "average Rating by Question")
}

func TestAnalyzeSummaryWithoutCredential(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	hits := 0
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	t.Setenv("CSVLENS_BASE_URL", srv.URL)

	out, errOut, err := runCmd(t, "analyze", p, "--summary")
	require.NoError(t, err)
	assert.Equal(t, 0, hits)
	assert.Contains(t, errOut, "summary unavailable")
	assert.NotContains(t, out, "[SUMMARY]")
}

func TestAnalyzeSummary(t *testing.T) {
	home := isolate(t)
	p := writeSurvey(t, home)

	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"1. Q1 leads."}}]}`))
	}))
	t.Setenv("CSVLENS_BASE_URL", srv.URL)
	t.Setenv("HF_TOKEN", "hf_x")

	out, _, err := runCmd(t, "analyze", p, "--summary")
	require.NoError(t, err)
	assert.Contains(t, out, "[SUMMARY]\n1. Q1 leads.\n")
}

func TestConfigSetAndShow(t *testing.T) {
	home := isolate(t)

	out, _, err := runCmd(t, "config", "set", "top_n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved top_n")
	_, _, err = runCmd(t, "config", "set", "api_key", "sk-abcdef123")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(home, ".csvlens", "config.yaml"))
	require.NoError(t, err)

	out, _, err = runCmd(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "top_n: 3\n")
	assert.Contains(t, out, "api_key: sk-****123\n")
	assert.False(t, strings.Contains(out, "sk-abcdef123"))

	_, _, err = runCmd(t, "config", "set", "top_n", "zero")
	require.Error(t, err)
	_, _, err = runCmd(t, "config", "set", "nope", "1")
	require.Error(t, err)
}
