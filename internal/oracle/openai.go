package oracle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// OpenAIOracle implements Oracle against an OpenAI-compatible API.
// It paces requests and memoizes identical calls so retries and repeated
// classifications don't re-bill.
type OpenAIOracle struct {
	apiKey     string
	apiBase    string
	model      string
	userName   string
	maxDrafts  int
	httpClient *http.Client
	limiter    *rate.Limiter
	memo       *cache.Cache
}

var _ Oracle = (*OpenAIOracle)(nil)

// OracleOptions configures NewOpenAIOracle.
type OracleOptions struct {
	APIKey  string
	APIBase string
	Model   string
	// UserName is spliced into every prompt.
	UserName string
	// MaxDrafts caps propositions per update. Zero selects 5.
	MaxDrafts int
	// Timeout bounds one API call. Zero selects 120s.
	Timeout time.Duration
	// RequestsPerMinute paces outgoing calls. Zero disables pacing.
	RequestsPerMinute int
	// CacheTTL memoizes identical calls for this long. Zero disables it.
	CacheTTL time.Duration
}

// NewOpenAIOracle creates an oracle client for OpenAI-compatible endpoints.
func NewOpenAIOracle(opts OracleOptions) *OpenAIOracle {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.UserName == "" {
		opts.UserName = "the user"
	}
	if opts.MaxDrafts <= 0 {
		opts.MaxDrafts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	o := &OpenAIOracle{
		apiKey:     opts.APIKey,
		apiBase:    strings.TrimSuffix(opts.APIBase, "/"),
		model:      opts.Model,
		userName:   opts.UserName,
		maxDrafts:  opts.MaxDrafts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
	if opts.RequestsPerMinute > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute)/60, 1)
	}
	if opts.CacheTTL > 0 {
		o.memo = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return o
}

// Propose turns a raw update into drafts.
func (o *OpenAIOracle) Propose(ctx context.Context, content, contentType string) ([]Draft, error) {
	system := fmt.Sprintf(proposePrompt, o.userName, o.userName, o.userName, o.maxDrafts)
	raw, err := o.chat(ctx, "propose", system, content, contentType)
	if err != nil {
		return nil, &CallError{Op: "propose", Err: err}
	}
	drafts, err := parseDrafts([]byte(raw))
	if err != nil {
		return nil, &CallError{Op: "propose", Err: err}
	}
	if len(drafts) > o.maxDrafts {
		drafts = drafts[:o.maxDrafts]
	}
	return drafts, nil
}

// Classify labels a draft against each neighbor.
func (o *OpenAIOracle) Classify(ctx context.Context, draft Draft, neighbors []Neighbor) ([]Relation, error) {
	if len(neighbors) == 0 {
		return nil, nil
	}
	system := fmt.Sprintf(classifyPrompt, o.userName)
	raw, err := o.chat(ctx, "classify", system, classifyInput(draft, neighbors), ContentText)
	if err != nil {
		return nil, &CallError{Op: "classify", Err: err}
	}
	relations, err := parseRelations([]byte(raw))
	if err != nil {
		return nil, &CallError{Op: "classify", Err: err}
	}
	return relations, nil
}

// Revise merges a draft with its similar neighbors.
func (o *OpenAIOracle) Revise(ctx context.Context, draft Draft, neighbors []Neighbor) (Draft, error) {
	system := fmt.Sprintf(revisePrompt, o.userName)
	raw, err := o.chat(ctx, "revise", system, reviseInput(draft, neighbors), ContentText)
	if err != nil {
		return Draft{}, &CallError{Op: "revise", Err: err}
	}
	merged, err := parseRevision([]byte(raw))
	if err != nil {
		return Draft{}, &CallError{Op: "revise", Err: err}
	}
	return merged, nil
}

// Audit gates an update before anything persists.
func (o *OpenAIOracle) Audit(ctx context.Context, content, contentType string) (Audit, error) {
	system := fmt.Sprintf(auditPrompt, o.userName)
	raw, err := o.chat(ctx, "audit", system, content, contentType)
	if err != nil {
		return Audit{}, &CallError{Op: "audit", Err: err}
	}
	verdict, err := parseAudit([]byte(raw))
	if err != nil {
		return Audit{}, &CallError{Op: "audit", Err: err}
	}
	return verdict, nil
}

// chat runs one JSON-mode completion.
func (o *OpenAIOracle) chat(ctx context.Context, op, system, content, contentType string) (string, error) {
	key := memoKey(op, system, content, contentType)
	if o.memo != nil {
		if v, ok := o.memo.Get(key); ok {
			return v.(string), nil
		}
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	sys := system
	var userContent any = content
	if contentType == ContentImage {
		sys = system + "\n\n" + imageUpdateNote
		userContent = []map[string]any{
			{"type": "image_url", "image_url": map[string]any{"url": content}},
		}
	}

	body := map[string]any{
		"model": o.model,
		"messages": []map[string]any{
			{"role": "system", "content": sys},
			{"role": "user", "content": userContent},
		},
		"temperature":     0.2,
		"response_format": map[string]any{"type": "json_object"},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	out := apiResp.Choices[0].Message.Content
	if o.memo != nil {
		o.memo.Set(key, out, cache.DefaultExpiration)
	}
	return out, nil
}

func memoKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// classifyInput serializes a draft and its neighbors for the classify call.
func classifyInput(draft Draft, neighbors []Neighbor) string {
	var b strings.Builder
	b.WriteString("Candidate statement:\n")
	b.WriteString(draft.Text)
	if draft.Reasoning != "" {
		b.WriteString("\nReasoning: ")
		b.WriteString(draft.Reasoning)
	}
	b.WriteString("\n\nExisting statements:\n")
	for _, n := range neighbors {
		fmt.Fprintf(&b, "[%d] %s\n", n.ID, n.Text)
	}
	return b.String()
}

// reviseInput serializes a draft and the overlapping statements to merge.
func reviseInput(draft Draft, neighbors []Neighbor) string {
	var b strings.Builder
	b.WriteString("Candidate statement:\n")
	b.WriteString(draft.Text)
	if draft.Reasoning != "" {
		b.WriteString("\nReasoning: ")
		b.WriteString(draft.Reasoning)
	}
	b.WriteString("\n\nOverlapping statements:\n")
	for _, n := range neighbors {
		fmt.Fprintf(&b, "[%d] %s\n", n.ID, n.Text)
		if n.Reasoning != "" {
			fmt.Fprintf(&b, "    Reasoning: %s\n", n.Reasoning)
		}
	}
	return b.String()
}

func parseDrafts(raw []byte) ([]Draft, error) {
	var resp struct {
		Propositions []Draft `json:"propositions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse drafts: %w", err)
	}
	var out []Draft
	for _, d := range resp.Propositions {
		d.Text = strings.TrimSpace(d.Text)
		if d.Text == "" {
			continue
		}
		d.Confidence = clampScore(d.Confidence)
		d.Decay = clampScore(d.Decay)
		out = append(out, d)
	}
	return out, nil
}

func parseRelations(raw []byte) ([]Relation, error) {
	var resp struct {
		Relations []struct {
			Target int64  `json:"target"`
			Label  string `json:"label"`
		} `json:"relations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse relations: %w", err)
	}
	out := make([]Relation, 0, len(resp.Relations))
	for _, r := range resp.Relations {
		label := RelationLabel(strings.ToUpper(strings.TrimSpace(r.Label)))
		switch label {
		case RelationIdentical, RelationSimilar, RelationUnrelated:
		default:
			// An unexpected label must never merge or attach anything.
			label = RelationUnrelated
		}
		out = append(out, Relation{Target: r.Target, Label: label})
	}
	return out, nil
}

func parseRevision(raw []byte) (Draft, error) {
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, fmt.Errorf("parse revision: %w", err)
	}
	d.Text = strings.TrimSpace(d.Text)
	if d.Text == "" {
		return Draft{}, fmt.Errorf("revision has no text")
	}
	d.Confidence = clampScore(d.Confidence)
	d.Decay = clampScore(d.Decay)
	return d, nil
}

func parseAudit(raw []byte) (Audit, error) {
	var a Audit
	if err := json.Unmarshal(raw, &a); err != nil {
		return Audit{}, fmt.Errorf("parse audit: %w", err)
	}
	return a, nil
}

func clampScore(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return &n
}

// OpenAI API response types.
type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
