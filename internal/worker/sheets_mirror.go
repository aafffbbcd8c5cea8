package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vehirec/internal/events"
	"vehirec/internal/metrics"
	"vehirec/internal/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Enqueue when the in-memory queue has no room.
var ErrQueueFull = errors.New("mirror queue is full")

// SheetsClient is the subset of the Sheets service the mirror needs.
type SheetsClient interface {
	AppendRecommendations(ctx context.Context, list *models.RecommendationList) error
}

// SheetsMirrorWorker appends exported recommendation lists to Google Sheets,
// retrying with backoff. Lists that exhaust retries go to a redis dead-letter list.
type SheetsMirrorWorker struct {
	sheets        SheetsClient
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan *models.RecommendationList
	deadLetterKey string
	logger        zerolog.Logger
	wait          func(ctx context.Context, d time.Duration) error
}

// NewSheetsMirrorWorker builds a worker; zero retry fields fall back to DefaultRetryPolicy. redisClient may be nil.
func NewSheetsMirrorWorker(sheets SheetsClient, redisClient *redis.Client, retry RetryPolicy, queueSize int, logger *zerolog.Logger) *SheetsMirrorWorker {
	retry = retry.withDefaults()
	if queueSize <= 0 {
		queueSize = 64
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sheets_mirror").Logger()
	}

	return &SheetsMirrorWorker{
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan *models.RecommendationList, queueSize),
		deadLetterKey: "sheets:deadletter",
		logger:        l,
		wait:          sleepContext,
	}
}

// Enqueue schedules a list without blocking.
func (w *SheetsMirrorWorker) Enqueue(list *models.RecommendationList) error {
	if list == nil {
		return errors.New("recommendation list is required")
	}
	select {
	case w.queue <- list:
		return nil
	default:
		return ErrQueueFull
	}
}

// HandleExported is an events.EventHandler for recommendations_exported.
func (w *SheetsMirrorWorker) HandleExported(event *events.Event) error {
	var payload events.RecommendationsPayload
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("decode export event: %w", err)
	}
	if payload.List == nil {
		return nil
	}
	return w.Enqueue(payload.List)
}

// Start drains the queue until ctx is done.
func (w *SheetsMirrorWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Sheets mirror started")
	defer w.logger.Info().Msg("Sheets mirror stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case list := <-w.queue:
			_ = w.process(ctx, list)
		}
	}
}

// Drain processes whatever is queued right now and returns.
func (w *SheetsMirrorWorker) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case list := <-w.queue:
			_ = w.process(ctx, list)
			n++
		default:
			return n
		}
	}
}

// process appends one list, retrying per policy. Returns the last error.
func (w *SheetsMirrorWorker) process(ctx context.Context, list *models.RecommendationList) error {
	var lastErr error
	for attempt := 1; attempt <= w.retryPolicy.MaxRetries; attempt++ {
		lastErr = w.sheets.AppendRecommendations(ctx, list)
		if lastErr == nil {
			metrics.IncExport("sheets", nil)
			w.logger.Debug().Int64("client_id", list.ClientID).Int("attempt", attempt).Msg("Recommendations mirrored")
			return nil
		}

		if attempt == w.retryPolicy.MaxRetries {
			break
		}

		delay := w.retryPolicy.NextDelay(attempt)
		w.logger.Warn().Err(lastErr).
			Int64("client_id", list.ClientID).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Sheets append failed, retrying")

		if err := w.wait(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	metrics.IncExport("sheets", lastErr)
	w.logger.Error().Err(lastErr).Int64("client_id", list.ClientID).Msg("Sheets mirror gave up")
	w.pushDeadLetter(ctx, list)
	return lastErr
}

func (w *SheetsMirrorWorker) pushDeadLetter(ctx context.Context, list *models.RecommendationList) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		w.logger.Error().Err(err).Msg("encode deadletter")
		return
	}
	// контекст мог быть отменен, dead-letter пишем в любом случае
	if err := w.redis.LPush(context.WithoutCancel(ctx), w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Msg("deadletter push failed")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
