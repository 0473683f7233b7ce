package llm

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(&database.Connection{DB: db})
	t.Cleanup(repo.Close)

	return New(repo, config.LLMConfig{MaxRetries: 1}), mock
}

var individualAnalysisColumns = []string{
	"id", "tenant_id", "phone", "call_id", "analysis_type", "intent_score", "urgency_score", "budget_score",
	"fit_score", "engagement_score", "total_score", "status_tag", "reasoning",
	"cta_pricing_clicked", "cta_demo_clicked", "cta_followup_clicked", "cta_sample_clicked",
	"cta_escalated_to_human", "demo_book_datetime", "previous_calls_analyzed", "latest_call_id", "analysis_timestamp",
}

// TestAnalyzeCallSkipsWithoutTranscript confirms the model is never invoked
// for a call that recorded no transcript (§4.7).
func TestAnalyzeCallSkipsWithoutTranscript(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectQuery("SELECT EXISTS.+FROM transcripts").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	require.NoError(t, o.AnalyzeCall(&database.Call{ID: 1, TenantID: 7, Phone: "+15550001111"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRefreshCompleteFoldsAndAveragesScores is the dual-analysis-upsert
// check (§4.7): refreshComplete folds every individual analysis for a
// (tenant, phone) pair into the rolling "complete" row, OR-ing CTA flags
// (they accumulate, never reset) and averaging scores.
func TestRefreshCompleteFoldsAndAveragesScores(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	callA, callB := int64(10), int64(11)
	rows := sqlmock.NewRows(individualAnalysisColumns).
		AddRow(1, int64(7), "+15550001111", &callA, database.AnalysisIndividual,
			80, 60, 40, 70, 50, 300, database.StatusWarm, nil,
			true, false, false, false, false, nil, 0, nil, time.Now()).
		AddRow(2, int64(7), "+15550001111", &callB, database.AnalysisIndividual,
			90, 70, 60, 80, 70, 370, database.StatusHot, nil,
			false, true, false, false, false, nil, 0, nil, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM lead_analytics").
		WithArgs(int64(7), "+15550001111").
		WillReturnRows(rows)

	mock.ExpectExec("INSERT INTO lead_analytics").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, o.refreshComplete(7, "+15550001111"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRefreshCompleteNoopOnNoIndividualAnalyses confirms the fold is skipped
// entirely (no upsert attempted) when nothing has been analyzed yet.
func TestRefreshCompleteNoopOnNoIndividualAnalyses(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectQuery("SELECT (.+) FROM lead_analytics").
		WithArgs(int64(7), "+15550002222").
		WillReturnRows(sqlmock.NewRows(individualAnalysisColumns))

	require.NoError(t, o.refreshComplete(7, "+15550002222"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusTagPrefersValidModelTag(t *testing.T) {
	require.Equal(t, database.StatusHot, statusTag(50, database.StatusHot))
}

func TestStatusTagFallsBackToScoreBands(t *testing.T) {
	require.Equal(t, database.StatusHot, statusTag(360, "nonsense"))
	require.Equal(t, database.StatusWarm, statusTag(250, ""))
	require.Equal(t, database.StatusCold, statusTag(50, ""))
}

func TestTotalScoreClampsEachComponent(t *testing.T) {
	total := totalScore(extraction{IntentScore: 150, UrgencyScore: -10, BudgetScore: 50, FitScore: 50, EngagementScore: 50})
	require.Equal(t, 100+0+50+50+50, total)
}
