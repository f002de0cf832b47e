package queue

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"
)

type StatsRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type StatusCounts struct {
	Total    int `json:"total"`
	Waiting  int `json:"waiting"`
	Called   int `json:"called"`
	Served   int `json:"served"`
	Skipped  int `json:"skipped"`
	Canceled int `json:"canceled"`
}

// Averages are zero when no ticket qualifies.
type Averages struct {
	WaitMs    int64   `json:"wait_ms"`
	WaitS     float64 `json:"wait_s"`
	ServiceMs int64   `json:"service_ms"`
	ServiceS  float64 `json:"service_s"`
}

type Stats struct {
	ServiceID int64        `json:"serviceId"`
	Range     StatsRange   `json:"range"`
	Counts    StatusCounts `json:"counts"`
	Averages  Averages     `json:"averages"`
}

// Summarize counts tickets by status and averages the time from creation to
// call and from call to serve.
func Summarize(serviceID int64, tickets []models.Ticket, from, to time.Time) Stats {
	stats := Stats{ServiceID: serviceID, Range: StatsRange{From: from, To: to}}
	var waitSum, serviceSum time.Duration
	var waitN, serviceN int
	for _, t := range tickets {
		stats.Counts.Total++
		switch t.Status {
		case models.StatusWaiting:
			stats.Counts.Waiting++
		case models.StatusCalled:
			stats.Counts.Called++
		case models.StatusServed:
			stats.Counts.Served++
		case models.StatusSkipped:
			stats.Counts.Skipped++
		case models.StatusCanceled:
			stats.Counts.Canceled++
		}
		if t.CalledAt != nil {
			waitSum += t.CalledAt.Sub(t.CreatedAt)
			waitN++
			if t.ServedAt != nil {
				serviceSum += t.ServedAt.Sub(*t.CalledAt)
				serviceN++
			}
		}
	}
	stats.Averages.WaitMs = averageMs(waitSum, waitN)
	stats.Averages.WaitS = msToSeconds(stats.Averages.WaitMs)
	stats.Averages.ServiceMs = averageMs(serviceSum, serviceN)
	stats.Averages.ServiceS = msToSeconds(stats.Averages.ServiceMs)
	return stats
}

func averageMs(sum time.Duration, n int) int64 {
	if n == 0 {
		return 0
	}
	return int64(math.Round(float64(sum.Milliseconds()) / float64(n)))
}

func msToSeconds(ms int64) float64 {
	return math.Round(float64(ms)/100) / 10
}

// GetServiceStats summarizes tickets created in [from, to). A nil from
// means the start of today, a nil to means now.
func (e *Engine) GetServiceStats(ctx context.Context, serviceID int64, from, to *time.Time) (Stats, error) {
	ctx, span := e.startSpan(ctx, "queue.GetServiceStats", attribute.Int64("service.id", serviceID))
	defer span.End()

	now := e.now()
	start, _ := models.DayRange(now, e.loc)
	rangeFrom, rangeTo := start, now
	if from != nil {
		rangeFrom = *from
	}
	if to != nil {
		rangeTo = *to
	}
	if rangeFrom.After(rangeTo) {
		return Stats{}, e.fail(span, "stats", NewValidationError("from must not be after to"))
	}

	var tickets []models.Ticket
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetService(ctx, serviceID); err != nil {
			return err
		}
		var err error
		tickets, err = tx.ListTicketsCreatedBetween(ctx, serviceID, rangeFrom, rangeTo)
		return err
	})
	if err != nil {
		return Stats{}, e.fail(span, "stats", err)
	}
	return Summarize(serviceID, tickets, rangeFrom, rangeTo), nil
}
