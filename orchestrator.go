package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the question -> answers -> judge pipeline against a
// configured model roster. Stages run strictly in order; only the
// competitor stage fans out internally.
type Orchestrator struct {
	config *Config
	client *ChatClient
}

// NewOrchestrator creates an orchestrator bound to the given configuration
// and chat client.
func NewOrchestrator(config *Config, client *ChatClient) *Orchestrator {
	return &Orchestrator{
		config: config,
		client: client,
	}
}

// BuildContextBlock renders prior turns into a textual block usable inside
// prompts. Rendering is purely additive: every kept turn appears in full,
// never summarized. Returns an empty string for an empty history.
func BuildContextBlock(conversation []ConversationTurn) string {
	if len(conversation) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Previous Conversation Context:\n\n")

	for idx, turn := range conversation {
		fmt.Fprintf(&b, "Turn %d:\n", idx+1)
		fmt.Fprintf(&b, "Question: %s\n", turn.Question)

		for i, answer := range turn.Answers {
			fmt.Fprintf(&b, "Competitor %d: %s\n", i+1, answer)
		}

		if len(turn.Ranking) > 0 {
			fmt.Fprintf(&b, "Ranking: %v\n", turn.Ranking)
		}

		b.WriteString("\n")
	}

	return b.String()
}

// buildInitialMessages is the fixed instruction for the question model.
func buildInitialMessages() []ChatMessage {
	request := "Please come up with a challenging, nuanced question that I can ask " +
		"a number of LLMs to evaluate their intelligence. " +
		"Answer only with the question, no explanation."
	return []ChatMessage{{Role: "user", Content: request}}
}

// GenerateQuestion asks the question model for a fresh evaluation question
// at temperature 0 with no context. Whatever text comes back is the
// question; no shape validation is applied. Returns the question and the
// stage's elapsed seconds.
func (o *Orchestrator) GenerateQuestion(ctx context.Context) (string, float64, error) {
	start := time.Now()

	question, err := o.client.Send(ctx, o.config.QuestionModel, buildInitialMessages(), 0, false)
	if err != nil {
		return "", 0, err
	}

	return question, time.Since(start).Seconds(), nil
}

// GenerateCompetitorAnswers sends the shared prompt to every configured
// competitor model concurrently and collects the answers in roster order.
// All-or-nothing: a single failed call fails the whole stage, after every
// in-flight call has finished. Elapsed time covers the whole parallel
// batch, dispatch to last completion.
func (o *Orchestrator) GenerateCompetitorAnswers(ctx context.Context, question string, conversation []ConversationTurn, temperature float64) ([]string, []string, float64, error) {
	start := time.Now()

	contextBlock := BuildContextBlock(conversation)

	fullPrompt := strings.TrimSpace(fmt.Sprintf(`%s

Current Question:
%s

Provide your best possible answer considering the previous context if relevant.`, contextBlock, question))

	messages := []ChatMessage{{Role: "user", Content: fullPrompt}}

	// Each goroutine writes only its own index, so no locking is needed.
	// Deliberately not errgroup.WithContext: a dispatched call is never
	// aborted, even when a sibling fails.
	answers := make([]string, len(o.config.CompetitorModels))
	var g errgroup.Group

	for i, model := range o.config.CompetitorModels {
		i, model := i, model
		g.Go(func() error {
			answer, err := o.client.Send(ctx, model, messages, temperature, false)
			if err != nil {
				return err
			}
			answers[i] = answer
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}

	return o.config.CompetitorModels, answers, time.Since(start).Seconds(), nil
}

// BuildJudgePrompt assembles the ranking instruction: rendered context,
// current question, the answers enumerated under "Competitor i:", and a
// strict JSON-only output contract. Competitor numbering is 1-based to
// match the indices used everywhere else.
func BuildJudgePrompt(question string, answers []string, conversation []ConversationTurn) string {
	contextBlock := BuildContextBlock(conversation)

	var combined strings.Builder
	for i, answer := range answers {
		fmt.Fprintf(&combined, "Competitor %d:\n%s\n\n", i+1, answer)
	}

	return strings.TrimSpace(fmt.Sprintf(`You must rank the competitors from best to worst.

%s

Current Question:
%s

Responses:
%s

Return ONLY valid JSON in this exact structure:

{
  "results": [list_of_competitor_numbers_in_best_to_worst_order]
}

Rules:
- No explanations
- No markdown
- No commentary
- No extra text
- Strict JSON only`, contextBlock, question, combined.String()))
}

// ParseRankingJSON defensively extracts a ranking array from the judge's
// free-form reply. When the text contains both '{' and '}', the slice from
// the first '{' to the last '}' is decoded; anything the model wrapped
// around it is discarded. Any failure collapses to an empty ranking rather
// than an error.
//
// The first-{/last-} heuristic can mis-extract when the reply contains
// multiple independent brace-delimited blocks; kept as-is for
// compatibility with the judge prompt's contract.
func ParseRankingJSON(rawOutput string) []int {
	raw := strings.TrimSpace(rawOutput)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end != -1 {
		if end >= start {
			raw = raw[start : end+1]
		} else {
			raw = ""
		}
	}

	var parsed struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		log.Printf("Judge parsing failed: %v", err)
		return []int{}
	}

	if parsed.Results == nil {
		return []int{}
	}

	var ranking []int
	if err := json.Unmarshal(parsed.Results, &ranking); err != nil {
		log.Printf("Judge parsing failed: results is not a list of competitor numbers: %v", err)
		return []int{}
	}
	if ranking == nil {
		return []int{}
	}

	return ranking
}

// JudgeAnswers asks the judge model to rank the answers best to worst and
// parses its reply. A malformed reply degrades to an empty ranking; only a
// backend failure is an error.
func (o *Orchestrator) JudgeAnswers(ctx context.Context, question string, answers []string, conversation []ConversationTurn) ([]int, float64, error) {
	start := time.Now()

	messages := []ChatMessage{
		{Role: "system", Content: "You are a strict ranking engine. Output JSON only."},
		{Role: "user", Content: BuildJudgePrompt(question, answers, conversation)},
	}

	rawOutput, err := o.client.Send(ctx, o.config.JudgeModel, messages, 0, true)
	if err != nil {
		return nil, 0, err
	}

	log.Println("----- JUDGE RAW OUTPUT START -----")
	log.Println(rawOutput)
	log.Println("----- JUDGE RAW OUTPUT END -----")

	ranking := ParseRankingJSON(rawOutput)

	return ranking, time.Since(start).Seconds(), nil
}

// roundSec rounds a seconds value to millisecond precision for reporting.
func roundSec(sec float64) float64 {
	return math.Round(sec*1000) / 1000
}

// Run executes the full pipeline for one request: truncate the
// conversation window, generate a question, fan out to the competitors,
// have the judge rank the answers, and assemble the result with the new
// turn appended. A backend failure at any stage aborts the run with no
// partial result; a malformed judge reply does not.
func (o *Orchestrator) Run(ctx context.Context, request OrchestrateRequest) (*OrchestrateResponse, error) {
	totalStart := time.Now()

	// Keep only the most recent turns. Older turns are dropped outright,
	// never summarized.
	conversation := request.Conversation
	if len(conversation) > o.config.HistoryWindow {
		conversation = conversation[len(conversation)-o.config.HistoryWindow:]
	}

	question, qLatency, err := o.GenerateQuestion(ctx)
	if err != nil {
		return nil, fmt.Errorf("question generation failed: %w", err)
	}

	competitors, answers, cLatency, err := o.GenerateCompetitorAnswers(ctx, question, conversation, request.Temperature)
	if err != nil {
		return nil, fmt.Errorf("competitor generation failed: %w", err)
	}

	ranking, jLatency, err := o.JudgeAnswers(ctx, question, answers, conversation)
	if err != nil {
		return nil, fmt.Errorf("judging failed: %w", err)
	}

	// The new turn lands on the already-truncated window, so the returned
	// history can run one turn past the window until the next call
	// truncates it again.
	updated := make([]ConversationTurn, 0, len(conversation)+1)
	updated = append(updated, conversation...)
	updated = append(updated, ConversationTurn{
		Question: question,
		Answers:  answers,
		Ranking:  ranking,
	})

	return &OrchestrateResponse{
		Question:    question,
		Competitors: competitors,
		Answers:     answers,
		Ranking:     ranking,
		Latency: LatencyBreakdown{
			QuestionGenerationSec:   roundSec(qLatency),
			CompetitorGenerationSec: roundSec(cLatency),
			JudgeSec:                roundSec(jLatency),
			TotalSec:                roundSec(time.Since(totalStart).Seconds()),
		},
		Conversation: updated,
	}, nil
}
