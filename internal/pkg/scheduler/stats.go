package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

// Redis keys
const (
	TickStatsKey        = "payment_tick_stats"
	LastReportKeyPrefix = "payment_tick_last:"

	lastReportTTL = 7 * 24 * time.Hour
)

// StatsSnapshot is the cumulative counter hash plus the last report per cadence.
type StatsSnapshot struct {
	Counters map[string]int64                    `json:"counters"`
	Last     map[Cadence]*paymentplan.TickReport `json:"last"`
}

// RedisStats keeps tick counters in a Redis hash shared by all replicas.
type RedisStats struct {
	client *redis.Client
}

func NewRedisStats(client *redis.Client) *RedisStats {
	return &RedisStats{client: client}
}

// Record implements StatsRecorder. Failures are logged; stats never fail a tick.
func (s *RedisStats) Record(ctx context.Context, cadence Cadence, report paymentplan.TickReport) {
	if s == nil || s.client == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		log.Errorf("[Scheduler] Failed to encode tick report: %v", err)
		return
	}

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, TickStatsKey, "runs:"+string(cadence), 1)
	pipe.HIncrBy(ctx, TickStatsKey, "invoices_sent", int64(report.InvoicesSent))
	pipe.HIncrBy(ctx, TickStatsKey, "reminders_sent", int64(report.RemindersSent))
	pipe.HIncrBy(ctx, TickStatsKey, "overdue_updated", int64(report.OverdueUpdated))
	pipe.HIncrBy(ctx, TickStatsKey, "errors", int64(len(report.Errors)))
	pipe.Set(ctx, LastReportKeyPrefix+string(cadence), payload, lastReportTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[Scheduler] Failed to update tick stats: %v", err)
	}
}

// Snapshot reads the counters and the last report of every cadence.
func (s *RedisStats) Snapshot(ctx context.Context) (*StatsSnapshot, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("tick stats are not configured")
	}
	raw, err := s.client.HGetAll(ctx, TickStatsKey).Result()
	if err != nil {
		return nil, err
	}

	out := &StatsSnapshot{
		Counters: make(map[string]int64, len(raw)),
		Last:     make(map[Cadence]*paymentplan.TickReport),
	}
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out.Counters[k] = n
	}

	for _, c := range Cadences {
		data, err := s.client.Get(ctx, LastReportKeyPrefix+string(c)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var report paymentplan.TickReport
		if err := json.Unmarshal(data, &report); err != nil {
			log.Warnf("[Scheduler] Ignoring unreadable %s report: %v", c, err)
			continue
		}
		out.Last[c] = &report
	}
	return out, nil
}

// StatsReader is the read side used by the admin API.
type StatsReader interface {
	Snapshot(ctx context.Context) (*StatsSnapshot, error)
}
