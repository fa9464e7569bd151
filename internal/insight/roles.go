package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/csvlens/internal/ai"
)

// Role is a semantic category a column may be assigned to.
type Role string

const (
	RoleRating    Role = "RATING"
	RoleMotivator Role = "MOTIVATOR"
	RoleMetric    Role = "METRIC"
	RoleCategory  Role = "CATEGORY"
)

// Roles lists every role in prompt order.
var Roles = []Role{RoleRating, RoleMotivator, RoleMetric, RoleCategory}

var roleHelp = map[Role]string{
	RoleRating:    "A numeric score or attractiveness rating.",
	RoleMotivator: "Factors for applying/motivation.",
	RoleMetric:    "A percentage or count (like completion rates).",
	RoleCategory:  "A group or question label.",
}

// Rejection reasons reported by Resolve.
const (
	ReasonUnknownColumn = "unknown column"
	ReasonNotString     = "not a string"
	ReasonUnknownRole   = "unknown role"
)

// RoleMapper asks a chat-completion runtime to map column names to roles.
type RoleMapper struct {
	Runtime ai.Runtime
	Model   string
}

// NewRoleMapper returns a mapper that sends requests for model through rt.
func NewRoleMapper(rt ai.Runtime, model string) *RoleMapper {
	return &RoleMapper{Runtime: rt, Model: model}
}

// RoleAssignment is a successful answer from the model. Raw is the verbatim
// JSON text; Proposed holds the string values keyed by known roles. Nothing
// in it has been checked against the table yet.
type RoleAssignment struct {
	Raw      string          `json:"raw"`
	Proposed map[Role]string `json:"proposed"`

	invalid []Rejection
}

// Rejection records a proposed role that did not survive Resolve.
type Rejection struct {
	Role   string `json:"role"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Resolution is the validated subset of a RoleAssignment.
type Resolution struct {
	Roles    map[Role]string `json:"roles"`
	Rejected []Rejection     `json:"rejected"`
}

// Column returns the column assigned to role, if any.
func (r Resolution) Column(role Role) (string, bool) {
	c, ok := r.Roles[role]
	return c, ok
}

// Prompt builds the instruction sent for columns.
func (m *RoleMapper) Prompt(columns []string) string {
	names, _ := json.Marshal(columns)
	var b strings.Builder
	fmt.Fprintf(&b, "Given these CSV headers: %s\n", names)
	b.WriteString("Map exactly ONE header to each of these categories if applicable:\n")
	for _, r := range Roles {
		fmt.Fprintf(&b, "- %s: %s\n", r, roleHelp[r])
	}
	b.WriteString("\nReturn ONLY a JSON object like: {\"RATING\": \"col_name\", \"MOTIVATOR\": \"col_name\"...}")
	return b.String()
}

// Infer asks the model which of columns fill which role. Any error is a
// *Failure; callers treat it as "no mapping available".
func (m *RoleMapper) Infer(ctx context.Context, columns []string, credential string) (*RoleAssignment, error) {
	content, err := complete(ctx, m.Runtime, credential, ai.GenerateRequest{
		Model:          m.Model,
		Messages:       []ai.Message{{Role: "user", Content: m.Prompt(columns)}},
		ResponseFormat: ai.JSONObject,
	})
	if err != nil {
		return nil, err
	}
	ra, err := ParseAssignment(content)
	if err != nil {
		return nil, &Failure{Kind: KindDecode, Err: err}
	}
	return ra, nil
}

// ParseAssignment reads a model answer into a RoleAssignment. The text must
// hold a single JSON object, optionally inside a ``` fence. Role keys are
// matched case-insensitively; null and empty values count as unassigned.
func ParseAssignment(text string) (*RoleAssignment, error) {
	body := stripFence(text)
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("role mapping is not a JSON object: %w", err)
	}
	if raw == nil {
		return nil, errors.New("role mapping is null")
	}
	ra := &RoleAssignment{Raw: text, Proposed: map[Role]string{}}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := bytes.TrimSpace(raw[k])
		role, known := lookupRole(k)
		if !known {
			ra.invalid = append(ra.invalid, Rejection{Role: k, Value: string(v), Reason: ReasonUnknownRole})
			continue
		}
		if bytes.Equal(v, []byte("null")) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			ra.invalid = append(ra.invalid, Rejection{Role: string(role), Value: string(v), Reason: ReasonNotString})
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			ra.Proposed[role] = s
		}
	}
	return ra, nil
}

// Resolve keeps the proposed roles whose column exists in columns and reports
// every other proposal as rejected. Rejections list known roles in prompt
// order, then unknown keys.
func (ra *RoleAssignment) Resolve(columns []string) Resolution {
	res := Resolution{Roles: map[Role]string{}, Rejected: []Rejection{}}
	if ra == nil {
		return res
	}
	exists := make(map[string]bool, len(columns))
	for _, c := range columns {
		exists[c] = true
	}
	for _, role := range Roles {
		col, ok := ra.Proposed[role]
		if !ok {
			continue
		}
		if exists[col] {
			res.Roles[role] = col
			continue
		}
		res.Rejected = append(res.Rejected, Rejection{Role: string(role), Value: col, Reason: ReasonUnknownColumn})
	}
	var unknown []Rejection
	for _, rj := range ra.invalid {
		if rj.Reason == ReasonNotString {
			res.Rejected = append(res.Rejected, rj)
		} else {
			unknown = append(unknown, rj)
		}
	}
	res.Rejected = append(res.Rejected, unknown...)
	return res
}

func lookupRole(key string) (Role, bool) {
	k := Role(strings.ToUpper(strings.TrimSpace(key)))
	if _, ok := roleHelp[k]; ok {
		return k, true
	}
	return "", false
}

// stripFence removes a surrounding markdown code fence some models add even
// in JSON mode.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
