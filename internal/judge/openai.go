package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	log "github.com/sirupsen/logrus"
)

const defaultModel = "gpt-4o"

const maxAttempts = 5

const systemPrompt = `You are grading a student's web page against a visual requirement.
You will receive a screenshot of the rendered page, the requirement, and the student's HTML.
Reply with a single JSON object and nothing else:
{"judgment": "pass" or "fail", "explanation": "one or two sentences"}
Judge only what the requirement asks for. Cosmetic differences that the requirement does not mention are not failures.`

// VisionJudge renders verdicts by showing the screenshot to a vision-capable
// chat model through any OpenAI-compatible API.
type VisionJudge struct {
	client *openai.Client
	model  string
}

// NewVisionJudge creates a judge talking to an OpenAI-compatible API.
// An empty baseURL uses the platform default; an empty model uses gpt-4o.
func NewVisionJudge(baseURL, apiKey, model string) *VisionJudge {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultModel
	}
	client := openai.NewClient(opts...)
	return &VisionJudge{client: &client, model: model}
}

func (j *VisionJudge) Judge(ctx context.Context, req Request) (*Verdict, error) {
	params := openai.ChatCompletionNewParams{
		Model: j.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.TextContentPart(userPrompt(req)),
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
								URL: req.Screenshot,
							}),
						},
					},
				},
			},
		},
	}

	var lastErr error
	for attempt := range maxAttempts {
		completion, err := j.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if strings.Contains(err.Error(), "429") && attempt < maxAttempts-1 {
				wait := time.Duration(2<<attempt) * time.Second // 2s, 4s, 8s, 16s
				log.WithField("test", req.TestName).Warnf("judge rate limited, retrying in %s", wait)
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return nil, fmt.Errorf("judging %q: %w", req.TestName, ctx.Err())
				}
			}
			return nil, fmt.Errorf("judging %q: %w", req.TestName, err)
		}
		if len(completion.Choices) == 0 {
			lastErr = fmt.Errorf("no choices returned")
			continue
		}

		verdict, err := ParseVerdict(completion.Choices[0].Message.Content)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		log.WithField("test", req.TestName).Warnf("unusable judge reply on attempt %d: %v", attempt+1, err)
	}
	return nil, fmt.Errorf("judging %q: %w", req.TestName, lastErr)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test: %s\n", req.TestName)
	fmt.Fprintf(&b, "Requirement: %s\n", req.Description)
	if req.HTMLCode != "" {
		fmt.Fprintf(&b, "\nStudent HTML:\n%s\n", req.HTMLCode)
	}
	b.WriteString("\nDoes the screenshot satisfy the requirement?")
	return b.String()
}
