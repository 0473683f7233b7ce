package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertIndividualAnalysis stores one per-call LeadAnalytics row (§4.7 dual
// analysis, individual leg).
func (r *Repository) InsertIndividualAnalysis(a *LeadAnalytics) error {
	const q = `
		INSERT INTO lead_analytics (
			tenant_id, phone, call_id, analysis_type, intent_score, urgency_score, budget_score,
			fit_score, engagement_score, total_score, status_tag, reasoning,
			cta_pricing_clicked, cta_demo_clicked, cta_followup_clicked, cta_sample_clicked,
			cta_escalated_to_human, demo_book_datetime, analysis_timestamp
		) VALUES ($1, $2, $3, 'individual', $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
	`
	_, err := r.conn.DB.Exec(q,
		a.TenantID, a.Phone, a.CallID, a.IntentScore, a.UrgencyScore, a.BudgetScore,
		a.FitScore, a.EngagementScore, a.TotalScore, a.StatusTag, []byte(a.Reasoning),
		a.CTAPricingClicked, a.CTADemoClicked, a.CTAFollowupClicked, a.CTASampleClicked,
		a.CTAEscalatedToHuman, a.DemoBookDatetime,
	)
	if err != nil {
		return fmt.Errorf("inserting individual analysis for call %v: %w", a.CallID, err)
	}
	return nil
}

// ListIndividualAnalyses returns every individual-leg analysis recorded for
// a (tenant, phone) pair, oldest first — the input set the "complete"
// rolling analysis folds over (§4.7).
func (r *Repository) ListIndividualAnalyses(tenantID int64, phone string) ([]*LeadAnalytics, error) {
	const q = `
		SELECT id, tenant_id, phone, call_id, analysis_type, intent_score, urgency_score, budget_score,
		       fit_score, engagement_score, total_score, status_tag, reasoning,
		       cta_pricing_clicked, cta_demo_clicked, cta_followup_clicked, cta_sample_clicked,
		       cta_escalated_to_human, demo_book_datetime, previous_calls_analyzed, latest_call_id, analysis_timestamp
		FROM lead_analytics
		WHERE tenant_id = $1 AND phone = $2 AND analysis_type = 'individual'
		ORDER BY analysis_timestamp ASC
	`
	rows, err := r.conn.DB.Query(q, tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("listing individual analyses for %s/%d: %w", phone, tenantID, err)
	}
	defer rows.Close()

	var out []*LeadAnalytics
	for rows.Next() {
		var a LeadAnalytics
		var reasoning []byte
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Phone, &a.CallID, &a.AnalysisType, &a.IntentScore, &a.UrgencyScore, &a.BudgetScore,
			&a.FitScore, &a.EngagementScore, &a.TotalScore, &a.StatusTag, &reasoning,
			&a.CTAPricingClicked, &a.CTADemoClicked, &a.CTAFollowupClicked, &a.CTASampleClicked,
			&a.CTAEscalatedToHuman, &a.DemoBookDatetime, &a.PreviousCallsAnalyzed, &a.LatestCallID, &a.AnalysisTimestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning individual analysis: %w", err)
		}
		if len(reasoning) > 0 {
			a.Reasoning = reasoning
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// UpsertCompleteAnalysis writes the rolling per-(tenant,phone) "complete"
// analysis, relying on the partial unique index on (tenant_id, phone) WHERE
// analysis_type = 'complete' (§4.7) to make repeated folds idempotent.
func (r *Repository) UpsertCompleteAnalysis(a *LeadAnalytics) error {
	const q = `
		INSERT INTO lead_analytics (
			tenant_id, phone, analysis_type, intent_score, urgency_score, budget_score,
			fit_score, engagement_score, total_score, status_tag, reasoning,
			cta_pricing_clicked, cta_demo_clicked, cta_followup_clicked, cta_sample_clicked,
			cta_escalated_to_human, demo_book_datetime, previous_calls_analyzed, latest_call_id, analysis_timestamp
		) VALUES ($1, $2, 'complete', $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
		ON CONFLICT (tenant_id, phone) WHERE analysis_type = 'complete' DO UPDATE SET
			intent_score = EXCLUDED.intent_score,
			urgency_score = EXCLUDED.urgency_score,
			budget_score = EXCLUDED.budget_score,
			fit_score = EXCLUDED.fit_score,
			engagement_score = EXCLUDED.engagement_score,
			total_score = EXCLUDED.total_score,
			status_tag = EXCLUDED.status_tag,
			reasoning = EXCLUDED.reasoning,
			cta_pricing_clicked = EXCLUDED.cta_pricing_clicked,
			cta_demo_clicked = EXCLUDED.cta_demo_clicked,
			cta_followup_clicked = EXCLUDED.cta_followup_clicked,
			cta_sample_clicked = EXCLUDED.cta_sample_clicked,
			cta_escalated_to_human = EXCLUDED.cta_escalated_to_human,
			demo_book_datetime = EXCLUDED.demo_book_datetime,
			previous_calls_analyzed = EXCLUDED.previous_calls_analyzed,
			latest_call_id = EXCLUDED.latest_call_id,
			analysis_timestamp = now()
	`
	_, err := r.conn.DB.Exec(q,
		a.TenantID, a.Phone, a.IntentScore, a.UrgencyScore, a.BudgetScore,
		a.FitScore, a.EngagementScore, a.TotalScore, a.StatusTag, []byte(a.Reasoning),
		a.CTAPricingClicked, a.CTADemoClicked, a.CTAFollowupClicked, a.CTASampleClicked,
		a.CTAEscalatedToHuman, a.DemoBookDatetime, a.PreviousCallsAnalyzed, a.LatestCallID,
	)
	if err != nil {
		return fmt.Errorf("upserting complete analysis for %s/%d: %w", a.Phone, a.TenantID, err)
	}
	return nil
}

// GetCompleteAnalysis loads the rolling "complete" analysis for a
// (tenant, phone) pair, if one exists.
func (r *Repository) GetCompleteAnalysis(tenantID int64, phone string) (*LeadAnalytics, error) {
	const q = `
		SELECT id, tenant_id, phone, call_id, analysis_type, intent_score, urgency_score, budget_score,
		       fit_score, engagement_score, total_score, status_tag, reasoning,
		       cta_pricing_clicked, cta_demo_clicked, cta_followup_clicked, cta_sample_clicked,
		       cta_escalated_to_human, demo_book_datetime, previous_calls_analyzed, latest_call_id, analysis_timestamp
		FROM lead_analytics
		WHERE tenant_id = $1 AND phone = $2 AND analysis_type = 'complete'
	`
	var a LeadAnalytics
	var reasoning []byte
	err := r.conn.DB.QueryRow(q, tenantID, phone).Scan(
		&a.ID, &a.TenantID, &a.Phone, &a.CallID, &a.AnalysisType, &a.IntentScore, &a.UrgencyScore, &a.BudgetScore,
		&a.FitScore, &a.EngagementScore, &a.TotalScore, &a.StatusTag, &reasoning,
		&a.CTAPricingClicked, &a.CTADemoClicked, &a.CTAFollowupClicked, &a.CTASampleClicked,
		&a.CTAEscalatedToHuman, &a.DemoBookDatetime, &a.PreviousCallsAnalyzed, &a.LatestCallID, &a.AnalysisTimestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading complete analysis for %s/%d: %w", phone, tenantID, err)
	}
	if len(reasoning) > 0 {
		a.Reasoning = reasoning
	}
	return &a, nil
}
