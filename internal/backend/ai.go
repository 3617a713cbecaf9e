package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

const maxAITokens = 2048

const diagnosisPrompt = `You are an expert agricultural scientist. Analyze the attached image and respond ONLY with a JSON object with these fields:
is_plant (bool), is_identifiable (bool), disease (string), confidence (number 0-100), treatment (string), ai_explanation (string), similar_cases (array of {"disease": string, "description": string}).

Step 1: decide whether the image contains a plant, crop or leaf and set is_plant.
Step 2:
- If is_plant is false: set is_identifiable to false, disease to "Not a Plant", confidence to 0, treatment to "N/A" and explain that the image does not appear to contain a plant.
- If a disease is clearly identifiable: set is_identifiable to true and give the disease name, a confidence above 60, an organic treatment plan and an explanation.
- If the image is a plant but blurry or poorly lit: still attempt a diagnosis with confidence below 60 and say in ai_explanation why confidence is low.
- Only if the plant image gives no diagnostic information at all: set is_identifiable to false, disease to "Unidentifiable" and confidence to 0.

Do not add any text outside the JSON object.`

const answerPrompt = `You are an expert in organic and sustainable farming for small-scale farmers in India.
Give a clear, concise and actionable answer to the question below, and three related questions a farmer might ask next.
%s

Question: %q

Respond ONLY with a JSON object: {"answer": string, "related_questions": [string, string, string]}`

// AI is the inference client used for diagnosis and question answering.
type AI struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAI creates an inference client.
func NewAI(apiKey, modelName string) *AI {
	return &AI{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(modelName),
	}
}

// Diagnose implements Diagnoser.
func (a *AI) Diagnose(ctx context.Context, image *model.Attachment) (*model.Diagnosis, error) {
	if image == nil || len(image.Data) == 0 {
		return nil, errors.NewInvalidRequest("image is required")
	}
	text, err := a.complete(ctx,
		anthropic.NewImageBlockBase64(image.MIMEType, base64.StdEncoding.EncodeToString(image.Data)),
		anthropic.NewTextBlock(diagnosisPrompt),
	)
	if err != nil {
		return nil, err
	}

	var raw struct {
		IsPlant        bool    `json:"is_plant"`
		IsIdentifiable bool    `json:"is_identifiable"`
		Disease        string  `json:"disease"`
		Confidence     float64 `json:"confidence"`
		Treatment      string  `json:"treatment"`
		AIExplanation  string  `json:"ai_explanation"`
		SimilarCases   []struct {
			Disease string `json:"disease"`
		} `json:"similar_cases"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return nil, errors.NewAIUnavailable("diagnosis response was not valid JSON")
	}

	d := &model.Diagnosis{
		IsPlant:        raw.IsPlant,
		IsIdentifiable: raw.IsIdentifiable,
		Disease:        raw.Disease,
		Confidence:     float64(int(raw.Confidence + 0.5)),
		Treatment:      raw.Treatment,
		AIExplanation:  raw.AIExplanation,
	}
	for i, c := range raw.SimilarCases {
		d.SimilarCases = append(d.SimilarCases, model.SimilarCase{
			ID:      fmt.Sprintf("case_%d", i),
			Photo:   fmt.Sprintf("https://picsum.photos/seed/case%d/100/100", i+1),
			Disease: c.Disease,
		})
	}
	return d, nil
}

// Answer implements Answerer. Engagement counters are placeholders; the
// backend has no voting table.
func (a *AI) Answer(ctx context.Context, question, lang string) (*model.KnowledgeAnswer, error) {
	instruction := "Please provide the answer in English."
	if lang == "te" {
		instruction = "You MUST respond only in the Telugu language."
	}
	text, err := a.complete(ctx, anthropic.NewTextBlock(fmt.Sprintf(answerPrompt, instruction, question)))
	if err != nil {
		return nil, err
	}

	var raw struct {
		Answer           string   `json:"answer"`
		RelatedQuestions []string `json:"related_questions"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return nil, errors.NewAIUnavailable("answer response was not valid JSON")
	}
	related := raw.RelatedQuestions
	if related == nil {
		related = []string{}
	}
	return &model.KnowledgeAnswer{
		Question: question,
		Answer:   raw.Answer,
		Likes:    rand.IntN(20),
		Dislikes: rand.IntN(3),
		Related:  related,
	}, nil
}

func (a *AI) complete(ctx context.Context, blocks ...anthropic.ContentBlockParamUnion) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxAITokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// extractJSON returns the outermost {...} in s, dropping code fences or prose.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// CheckDiagnosis maps a non-plant or unidentifiable result to its error.
func CheckDiagnosis(d *model.Diagnosis) error {
	switch {
	case d == nil:
		return errors.NewAIUnavailable("empty diagnosis")
	case !d.IsPlant:
		return errors.NewNotAPlant(d.AIExplanation)
	case !d.IsIdentifiable:
		return errors.NewUnidentifiable(d.AIExplanation)
	}
	return nil
}

// Unavailable is the Diagnoser and Answerer used when no AI key is configured.
type Unavailable struct{}

func (Unavailable) Diagnose(context.Context, *model.Attachment) (*model.Diagnosis, error) {
	return nil, errors.NewAIUnavailable("diagnosis is not configured (set ai_api_key)")
}

func (Unavailable) Answer(context.Context, string, string) (*model.KnowledgeAnswer, error) {
	return nil, errors.NewAIUnavailable("question answering is not configured (set ai_api_key)")
}

// Scripted is a Diagnoser and Answerer with canned results.
type Scripted struct {
	Diagnosis *model.Diagnosis
	Answers   map[string]*model.KnowledgeAnswer
	Err       error
}

func (s *Scripted) Diagnose(context.Context, *model.Attachment) (*model.Diagnosis, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Diagnosis == nil {
		return nil, errors.NewAIUnavailable("no diagnosis scripted")
	}
	d := *s.Diagnosis
	return &d, nil
}

func (s *Scripted) Answer(_ context.Context, question, _ string) (*model.KnowledgeAnswer, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	a, ok := s.Answers[question]
	if !ok {
		return nil, errors.NewAIUnavailable("no answer scripted")
	}
	out := *a
	out.Question = question
	return &out, nil
}
