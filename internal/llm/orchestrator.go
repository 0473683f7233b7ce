// Package llm implements the LLM Extraction Orchestrator (§4.7): per-call
// lead scoring plus a rolling "complete" analysis across every call ever
// placed to a (tenant, phone) pair.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
)

// Orchestrator extracts structured lead analytics from a call transcript.
type Orchestrator struct {
	repo   *database.Repository
	client anthropic.Client
	cfg    config.LLMConfig
}

// New constructs an Orchestrator from LLMConfig.
func New(repo *database.Repository, cfg config.LLMConfig) *Orchestrator {
	return &Orchestrator{
		repo:   repo,
		client: anthropic.NewClient(),
		cfg:    cfg,
	}
}

// extraction is the JSON shape requested from the model (§4.7 mapping
// contract): five 0-100 scores, a status tag, CTA flags, and reasoning.
type extraction struct {
	IntentScore         int             `json:"intent_score"`
	UrgencyScore        int             `json:"urgency_score"`
	BudgetScore         int             `json:"budget_score"`
	FitScore            int             `json:"fit_score"`
	EngagementScore     int             `json:"engagement_score"`
	StatusTag           string          `json:"status_tag"`
	CTAPricingClicked   bool            `json:"cta_pricing_clicked"`
	CTADemoClicked      bool            `json:"cta_demo_clicked"`
	CTAFollowupClicked  bool            `json:"cta_followup_clicked"`
	CTASampleClicked    bool            `json:"cta_sample_clicked"`
	CTAEscalatedToHuman bool            `json:"cta_escalated_to_human"`
	DemoBookDatetime    string          `json:"demo_book_datetime,omitempty"`
	Reasoning           json.RawMessage `json:"reasoning"`
}

// AnalyzeCall runs the §4.7 dual analysis for a newly completed call: an
// individual-leg extraction scoped to this one call, followed by a rolling
// "complete" analysis folded over every individual analysis on record for
// the (tenant, phone) pair.
func (o *Orchestrator) AnalyzeCall(call *database.Call) error {
	transcript, err := o.repo.HasTranscript(call.ID)
	if err != nil {
		return fmt.Errorf("checking transcript for call %d: %w", call.ID, err)
	}
	if !transcript {
		log.Debug().Int64("call_id", call.ID).Msg("no transcript, skipping llm extraction")
		return nil
	}

	individual, err := o.extractIndividual(call)
	if err != nil {
		return fmt.Errorf("extracting individual analysis for call %d: %w", call.ID, err)
	}
	if err := o.repo.InsertIndividualAnalysis(individual); err != nil {
		return fmt.Errorf("storing individual analysis for call %d: %w", call.ID, err)
	}

	if err := o.refreshComplete(call.TenantID, call.Phone); err != nil {
		return fmt.Errorf("refreshing complete analysis for %s/%d: %w", call.Phone, call.TenantID, err)
	}
	return nil
}

func (o *Orchestrator) extractIndividual(call *database.Call) (*database.LeadAnalytics, error) {
	prompt := o.cfg.DefaultIndividualPrompt

	var ex extraction
	if err := o.callWithRetry(prompt, &ex); err != nil {
		return nil, err
	}

	return &database.LeadAnalytics{
		TenantID:            call.TenantID,
		Phone:                call.Phone,
		CallID:               &call.ID,
		AnalysisType:         database.AnalysisIndividual,
		IntentScore:          database.ClampScore(ex.IntentScore),
		UrgencyScore:         database.ClampScore(ex.UrgencyScore),
		BudgetScore:          database.ClampScore(ex.BudgetScore),
		FitScore:             database.ClampScore(ex.FitScore),
		EngagementScore:      database.ClampScore(ex.EngagementScore),
		TotalScore:           totalScore(ex),
		StatusTag:            statusTag(totalScore(ex), ex.StatusTag),
		Reasoning:            ex.Reasoning,
		CTAPricingClicked:    ex.CTAPricingClicked,
		CTADemoClicked:       ex.CTADemoClicked,
		CTAFollowupClicked:   ex.CTAFollowupClicked,
		CTASampleClicked:     ex.CTASampleClicked,
		CTAEscalatedToHuman:  ex.CTAEscalatedToHuman,
	}, nil
}

// refreshComplete folds every individual analysis for (tenantID, phone)
// into the rolling "complete" row, OR-ing the CTA flags across every call
// (they accumulate — once true, stay true) and averaging scores (§4.7).
func (o *Orchestrator) refreshComplete(tenantID int64, phone string) error {
	individuals, err := o.repo.ListIndividualAnalyses(tenantID, phone)
	if err != nil {
		return fmt.Errorf("listing individual analyses: %w", err)
	}
	if len(individuals) == 0 {
		return nil
	}

	complete := &database.LeadAnalytics{
		TenantID:              tenantID,
		Phone:                 phone,
		AnalysisType:          database.AnalysisComplete,
		PreviousCallsAnalyzed: len(individuals),
		LatestCallID:          individuals[len(individuals)-1].CallID,
	}
	for _, a := range individuals {
		complete.IntentScore += a.IntentScore
		complete.UrgencyScore += a.UrgencyScore
		complete.BudgetScore += a.BudgetScore
		complete.FitScore += a.FitScore
		complete.EngagementScore += a.EngagementScore
		complete.CTAPricingClicked = complete.CTAPricingClicked || a.CTAPricingClicked
		complete.CTADemoClicked = complete.CTADemoClicked || a.CTADemoClicked
		complete.CTAFollowupClicked = complete.CTAFollowupClicked || a.CTAFollowupClicked
		complete.CTASampleClicked = complete.CTASampleClicked || a.CTASampleClicked
		complete.CTAEscalatedToHuman = complete.CTAEscalatedToHuman || a.CTAEscalatedToHuman
		if a.DemoBookDatetime != nil {
			complete.DemoBookDatetime = a.DemoBookDatetime
		}
	}
	n := len(individuals)
	complete.IntentScore /= n
	complete.UrgencyScore /= n
	complete.BudgetScore /= n
	complete.FitScore /= n
	complete.EngagementScore /= n
	complete.TotalScore = complete.IntentScore + complete.UrgencyScore + complete.BudgetScore + complete.FitScore + complete.EngagementScore
	complete.StatusTag = statusTag(complete.TotalScore, "")

	return o.repo.UpsertCompleteAnalysis(complete)
}

func totalScore(ex extraction) int {
	return database.ClampScore(ex.IntentScore) + database.ClampScore(ex.UrgencyScore) +
		database.ClampScore(ex.BudgetScore) + database.ClampScore(ex.FitScore) + database.ClampScore(ex.EngagementScore)
}

// statusTag derives Hot/Warm/Cold from the total score when the model
// didn't supply (or supplied an invalid) tag (§4.7 Safety net).
func statusTag(total int, modelTag string) string {
	switch modelTag {
	case database.StatusHot, database.StatusWarm, database.StatusCold:
		return modelTag
	}
	switch {
	case total >= 350:
		return database.StatusHot
	case total >= 200:
		return database.StatusWarm
	default:
		return database.StatusCold
	}
}

// retryableStatus reports whether an Anthropic API error is worth retrying
// (§4.7: 429 rate limit, 500/503 transient server errors).
func retryableStatus(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
	}
	return false
}

func retryDelay(attempt int) time.Duration {
	base := time.Second
	d := base << attempt
	const cap = 10 * time.Second
	if d > cap {
		return cap
	}
	return d
}

// callWithRetry invokes the model and decodes its JSON response into out,
// retrying with exponential backoff on transient errors (§4.7).
func (o *Orchestrator) callWithRetry(prompt string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
		msg, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(o.cfg.Model),
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		cancel()
		if err != nil {
			lastErr = err
			if !retryableStatus(err) {
				return fmt.Errorf("calling model: %w", err)
			}
			time.Sleep(retryDelay(attempt))
			continue
		}

		text := msg.Content[0].Text
		if err := json.Unmarshal([]byte(text), out); err != nil {
			return fmt.Errorf("decoding model response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted retries calling model: %w", lastErr)
}
