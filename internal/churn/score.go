package churn

import (
	"math"
	"time"

	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// Features are the engagement inputs of the churn formula.
type Features struct {
	TotalActions      int
	DaysSinceActivity int
	ActivityRate      float64
	DaysRemaining     int
}

// Result is a computed churn score.
type Result struct {
	Score           int                  `json:"score"`
	Level           enums.ChurnRiskLevel `json:"level"`
	EngagementScore int                  `json:"engagementScore"`
}

const day = 24 * time.Hour

// DeriveFeatures turns a trial and its usage into formula inputs. Day counts
// are whole days rounded down; a trial with no activity counts as idle since
// it started.
func DeriveFeatures(trial models.Trial, stats usage.Stats, now time.Time) Features {
	elapsed := wholeDays(now.Sub(trial.StartedAt))
	f := Features{
		TotalActions:      stats.TotalActions,
		DaysSinceActivity: elapsed,
		DaysRemaining:     wholeDays(trial.EndsAt.Sub(now)),
		ActivityRate:      float64(stats.TotalActions) / float64(max(elapsed, 1)),
	}
	if stats.LastActivityAt != nil {
		f.DaysSinceActivity = wholeDays(now.Sub(*stats.LastActivityAt))
	}
	return f
}

func wholeDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Hours() / 24))
}

// Compute applies the weighted churn heuristic. It is a pure function.
func Compute(f Features) Result {
	engagement := min(100, f.TotalActions*10)

	score := 0
	switch {
	case engagement < 20:
		score += 40
	case engagement < 40:
		score += 30
	case engagement < 60:
		score += 20
	case engagement < 80:
		score += 10
	}

	switch {
	case f.DaysSinceActivity > 7:
		score += 30
	case f.DaysSinceActivity > 5:
		score += 20
	case f.DaysSinceActivity > 3:
		score += 10
	}

	switch {
	case f.ActivityRate < 0.5:
		score += 20
	case f.ActivityRate < 1:
		score += 15
	case f.ActivityRate < 2:
		score += 10
	}

	if f.DaysRemaining < 3 && engagement < 50 {
		score += 10
	}

	return Result{Score: score, Level: LevelFor(score), EngagementScore: engagement}
}

// LevelFor buckets a score.
func LevelFor(score int) enums.ChurnRiskLevel {
	switch {
	case score >= 70:
		return enums.ChurnRiskCritical
	case score >= 50:
		return enums.ChurnRiskHigh
	case score >= 30:
		return enums.ChurnRiskMedium
	default:
		return enums.ChurnRiskLow
	}
}
