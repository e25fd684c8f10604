// Package stats tracks the small set of aggregate counters the dashboard
// reads expose: how many messages and unique visitors the service has seen
// today, and how many times each catalog city's feed has been fetched by a
// distinct fingerprint recently.
package stats

import (
	"context"
	"strconv"
	"time"

	"github.com/tbourn/go-board-backend/internal/store"
)

// Retention bounds how long a day's counters and visitor sets survive.
const Retention = 7 * 24 * time.Hour

// AverageWindowDays is the number of trailing days averaged for a city's
// daily_average figure.
const AverageWindowDays = 7

// Engine tracks daily and per-city counters over a shared coordination
// store.
type Engine struct {
	store *store.Store
}

// New constructs an Engine backed by s.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

func messageCountKey(day string) string       { return "stats:message_count:" + day }
func uniqueIPsKey(day string) string          { return "stats:unique_ips:" + day }
func cityViewsKey(city, day string) string    { return "stats:city_views:" + city + ":" + day }
func cityVisitorsKey(city, day string) string { return "stats:city_visitors:" + city + ":" + day }

// Day formats t as the UTC calendar day used to key every counter in this
// package.
func Day(t time.Time) string { return t.UTC().Format("2006-01-02") }

// RecordMessage increments today's accepted-post counter. Callers only call
// this for posts that actually reach persistence — a synthetic
// shadowbanned "success" never increments it.
func (e *Engine) RecordMessage(ctx context.Context, day string) error {
	if _, err := e.store.Incr(ctx, messageCountKey(day)); err != nil {
		return err
	}
	return e.store.Expire(ctx, messageCountKey(day), Retention)
}

// RecordVisitor adds ip to today's unique-visitor set.
func (e *Engine) RecordVisitor(ctx context.Context, ip, day string) error {
	if _, err := e.store.SAdd(ctx, uniqueIPsKey(day), ip); err != nil {
		return err
	}
	return e.store.Expire(ctx, uniqueIPsKey(day), Retention)
}

// DailyStats returns today's unique visitor count and message count.
func (e *Engine) DailyStats(ctx context.Context, day string) (uniqueIPs, messageCount int64, err error) {
	uniqueIPs, err = e.store.SCard(ctx, uniqueIPsKey(day))
	if err != nil {
		return 0, 0, err
	}
	raw, ok, err := e.store.Get(ctx, messageCountKey(day))
	if err != nil {
		return uniqueIPs, 0, err
	}
	if !ok {
		return uniqueIPs, 0, nil
	}
	messageCount = parseCount(raw)
	return uniqueIPs, messageCount, nil
}

// RecordCityView counts a city feed fetch once per distinct fingerprint per
// day: the first fetch from a given fingerprint on a given day increments
// the view counter, repeats from the same fingerprint that day do not.
func (e *Engine) RecordCityView(ctx context.Context, city, fingerprint, day string) error {
	visitors := cityVisitorsKey(city, day)
	isNew, err := e.store.SAdd(ctx, visitors, fingerprint)
	if err != nil {
		return err
	}
	if err := e.store.Expire(ctx, visitors, Retention); err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	views := cityViewsKey(city, day)
	if _, err := e.store.Incr(ctx, views); err != nil {
		return err
	}
	return e.store.Expire(ctx, views, Retention)
}

// CityStat is one row of GET /api/stats/cities.
type CityStat struct {
	City         string  `json:"city"`
	Views        int64   `json:"views"`
	DailyAverage float64 `json:"daily_average"`
}

// CityStats returns Views and DailyAverage for every city in catalog,
// summed over the trailing AverageWindowDays days ending at now.
func (e *Engine) CityStats(ctx context.Context, catalog []string, now time.Time) ([]CityStat, error) {
	days := make([]string, AverageWindowDays)
	for i := 0; i < AverageWindowDays; i++ {
		days[i] = Day(now.AddDate(0, 0, -i))
	}

	out := make([]CityStat, 0, len(catalog))
	for _, city := range catalog {
		var total int64
		for _, day := range days {
			raw, ok, err := e.store.Get(ctx, cityViewsKey(city, day))
			if err != nil {
				return nil, err
			}
			if ok {
				total += parseCount(raw)
			}
		}
		out = append(out, CityStat{
			City:         city,
			Views:        total,
			DailyAverage: float64(total) / float64(AverageWindowDays),
		})
	}
	return out, nil
}

func parseCount(raw string) int64 {
	n, _ := strconv.ParseInt(raw, 10, 64)
	return n
}
