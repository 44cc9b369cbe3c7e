package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/repo"
)

// Summary window bounds, in days.
const (
	DefaultSummaryDays = 30
	MaxSummaryDays     = 365
)

// ReportService serves the dashboard summary.
type ReportService struct {
	DB  *gorm.DB
	Now func() time.Time
}

// Summary aggregates funnel activity over the last days days. Out-of-range
// values fall back to DefaultSummaryDays or are capped at MaxSummaryDays.
func (s *ReportService) Summary(ctx context.Context, days int) (repo.Summary, error) {
	if days <= 0 {
		days = DefaultSummaryDays
	}
	if days > MaxSummaryDays {
		days = MaxSummaryDays
	}

	tr := otel.Tracer("services/ReportService")
	ctx, span := tr.Start(ctx, "Summary", trace.WithAttributes(attribute.Int("report.days", days)))
	defer span.End()

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return repo.FunnelSummary(ctx, s.DB, now().AddDate(0, 0, -days))
}
