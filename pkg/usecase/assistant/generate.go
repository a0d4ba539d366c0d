package assistant

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"regexp"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/qqmikey/datachat/pkg/adapter"
	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/service/executor"
)

//go:embed prompt/generate.md
var generatePromptRaw string

var generatePromptTmpl = template.Must(template.New("generate").Parse(generatePromptRaw))

//go:embed prompt/answer.md
var answerPromptRaw string

var answerPromptTmpl = template.Must(template.New("answer").Parse(answerPromptRaw))

//go:embed prompt/title.md
var titlePromptRaw string

var titlePromptTmpl = template.Must(template.New("title").Parse(titlePromptRaw))

// generation is one parsed three-part LLM response: summary line,
// explanation paragraph, and the code block.
type generation struct {
	Summary     string
	Explanation string
	Code        string
	Raw         string
}

var (
	fencedBlockRe = regexp.MustCompile("```[a-zA-Z]*\\n([\\s\\S]*?)```")
	salvageRe     = regexp.MustCompile(`(?s)(result\s*=.*)`)
)

// extractParts splits an LLM response into summary, explanation, and code.
// When the model forgot the code fences, the tail starting at the result
// assignment is salvaged.
func extractParts(content string) (summary, explanation, code string) {
	head := content
	if loc := fencedBlockRe.FindStringSubmatchIndex(content); loc != nil {
		code = strings.TrimSpace(content[loc[2]:loc[3]])
		head = content[:loc[0]]
	} else if strings.Contains(content, "result") {
		if m := salvageRe.FindStringSubmatch(content); m != nil {
			code = strings.TrimSpace(m[1])
		}
	}

	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(head), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 {
		summary = lines[0]
	}
	if len(lines) > 1 {
		explanation = strings.Join(lines[1:], "\n")
	}
	return summary, explanation, code
}

// contextSnippet renders the conversational context for the generation
// prompt: summary, topic hint, and the last few turns.
func contextSnippet(convCtx *model.Context) string {
	if convCtx == nil {
		return ""
	}
	var parts []string
	if s := strings.TrimSpace(convCtx.Summary); s != "" {
		parts = append(parts, "Conversation summary: "+s)
	}
	if topic := strings.TrimSpace(convCtx.Topic); topic != "" {
		parts = append(parts, "Current topic hint: "+topic)
	}
	if len(convCtx.Turns) > 0 {
		tail := convCtx.Turns
		if len(tail) > 6 {
			tail = tail[len(tail)-6:]
		}
		rendered := make([]string, 0, len(tail))
		for _, turn := range tail {
			rendered = append(rendered, "- "+string(turn.Role)+": "+turn.Content)
		}
		parts = append(parts, "Recent turns:\n"+strings.Join(rendered, "\n"))
	}
	return strings.Join(parts, "\n")
}

// retryHint builds the repair instruction for a retry attempt from the
// previous code and error.
func retryHint(prevCode, prevError string) string {
	if prevCode == "" && prevError == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous attempt failed. Fix the issue and regenerate.\n")
	if prevError != "" {
		b.WriteString("Error: " + prevError + "\n")
	}
	if prevCode != "" {
		b.WriteString("Previous code:\n```\n" + prevCode + "\n```\n")
	}
	if prevError != "" && strings.Contains(prevError, "unknown field") {
		b.WriteString("A field name does not exist on that entity type. Use only fields listed in the manifest.\n")
	}
	if prevError != "" && strings.Contains(prevError, "is not defined") {
		b.WriteString("A name was not defined. Do not reference entity types as namespace.EntityType (for example app.User). Use the bare type name directly (for example User.filter(...)).\n")
	}
	if prevCode != "" && namespacedRefRe.MatchString(prevCode) {
		b.WriteString("Detected a namespaced entity reference pattern. Replace namespace.EntityType with the bare type name.\n")
	}
	return b.String()
}

func (a *Assistant) generateCode(ctx context.Context, question string, prevCode, prevError string, convCtx *model.Context, plan *model.QueryPlan, mf model.Manifest) (*generation, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal query plan")
	}

	focus := ""
	if len(plan.FocusEntities) > 0 {
		focus = strings.Join(plan.FocusEntities, ", ")
	}

	var buf bytes.Buffer
	if err := generatePromptTmpl.Execute(&buf, map[string]any{
		"MaxRows":  executor.DefaultMaxRows,
		"Focus":    focus,
		"Manifest": mf.Snippet(200, 30),
		"Context":  contextSnippet(convCtx),
		"Plan":     string(planJSON),
		"Hint":     retryHint(prevCode, prevError),
		"Question": question,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to render generation prompt")
	}

	resp, err := a.llm.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{})
	if err != nil {
		return nil, goerr.Wrap(err, "code generation failed")
	}

	content := adapter.ResponseText(resp)
	summary, explanation, code := extractParts(content)
	if code == "" {
		return nil, goerr.Wrap(model.ErrNoCode, "generation returned no code block")
	}
	return &generation{
		Summary:     summary,
		Explanation: explanation,
		Code:        code,
		Raw:         content,
	}, nil
}

// answerWithData asks the LLM to phrase the final answer from the executed
// result. Best effort; the caller keeps the generation summary on failure.
func (a *Assistant) answerWithData(ctx context.Context, question string, result any, truncated bool) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		raw = []byte("null")
	}
	data := string(raw)
	if len(data) > 6000 {
		data = data[:6000]
	}

	var buf bytes.Buffer
	if err := answerPromptTmpl.Execute(&buf, map[string]any{
		"Question":  question,
		"Data":      data,
		"Truncated": truncated,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render answer prompt")
	}

	resp, err := a.llm.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.2),
		})
	if err != nil {
		return "", goerr.Wrap(err, "answer summarization failed")
	}
	return strings.TrimSpace(adapter.ResponseText(resp)), nil
}

var titlePrefixRe = regexp.MustCompile(`(?i)^\s*title\s*:\s*`)
var titleSpaceRe = regexp.MustCompile(`\s+`)

// normalizeTitle cleans an LLM-suggested title: first line only, quotes and
// labels stripped, whitespace collapsed, clipped to maxLen.
func normalizeTitle(value string, maxLen int) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	text = strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	text = strings.Trim(text, "`\"' ")
	text = titlePrefixRe.ReplaceAllString(text, "")
	text = strings.Trim(text, "`\"' ")
	text = titleSpaceRe.ReplaceAllString(text, " ")
	text = strings.TrimRight(text, " .,:;|-")
	if runes := []rune(text); len(runes) > maxLen {
		text = strings.TrimRight(string(runes[:maxLen]), " ")
	}
	return text
}

// suggestTitle asks the LLM for a short conversation title. Returns "" on
// any failure; the caller has a deterministic fallback.
func (a *Assistant) suggestTitle(ctx context.Context, firstQuestion string) string {
	var buf bytes.Buffer
	if err := titlePromptTmpl.Execute(&buf, map[string]any{"Question": firstQuestion}); err != nil {
		return ""
	}
	resp, err := a.llm.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0.1),
			MaxOutputTokens: 24,
		})
	if err != nil {
		return ""
	}
	return normalizeTitle(adapter.ResponseText(resp), 80)
}
