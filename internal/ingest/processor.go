// Package ingest turns narrative messages from the stream into reminders.
// Each message runs once through the idempotency inbox on a bounded pool.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/infrastructure/redpanda"
	"github.com/drfirst/go-medplan/internal/narrative"
	"github.com/drfirst/go-medplan/pkg/idempotency"
	"github.com/drfirst/go-medplan/pkg/workerpool"
)

// HandlerName identifies this consumer in the inbox table.
const HandlerName = "narrative-ingest"

// ErrEmptyMessage is returned for a message with neither text nor request.
var ErrEmptyMessage = errors.New("message carries no narrative text or analysis request")

// Message is the JSON body of a narrative.results record. Text wins when
// both fields are set. Request is sent to the analyzer otherwise.
type Message struct {
	Text    string             `json:"text,omitempty"`
	Section string             `json:"section,omitempty"`
	Request *narrative.Request `json:"request,omitempty"`
}

// Outcome is stored in the inbox as the handler's result.
type Outcome struct {
	Status    extraction.Status `json:"status"`
	Inserted  int               `json:"inserted"`
	Malformed int               `json:"malformed"`
}

// Inbox is the idempotency gate.
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// ReminderUpserter stores extracted entries.
type ReminderUpserter interface {
	UpsertFromEntries(ctx context.Context, entries []extraction.Entry) (*reminder.UpsertResult, error)
}

// Observer receives per-message counters. Metrics implements it.
type Observer interface {
	ObserveExtraction(r extraction.Result, took time.Duration)
	ObserveReminderUpsert(inserted int)
	ObserveWorkerPool(s workerpool.Stats)
}

// Processor wires extraction, the optional analyzer and the reminder store.
type Processor struct {
	inbox     Inbox
	reminders ReminderUpserter
	extractor *extraction.Extractor
	analyzer  narrative.Analyzer
	observer  Observer
	logger    *zap.Logger
	pool      *workerpool.Pool
}

// Config carries the processor's collaborators. Analyzer and Observer may
// be nil.
type Config struct {
	Inbox     Inbox
	Reminders ReminderUpserter
	Extractor *extraction.Extractor
	Analyzer  narrative.Analyzer
	Observer  Observer
	Pool      workerpool.Config
}

// NewProcessor builds a processor and its worker pool. Call Start before
// Handle.
func NewProcessor(cfg Config, logger *zap.Logger) (*Processor, error) {
	if cfg.Inbox == nil || cfg.Reminders == nil {
		return nil, errors.New("inbox and reminder store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extraction.New(extraction.WithLogger(logger))
	}

	p := &Processor{
		inbox:     cfg.Inbox,
		reminders: cfg.Reminders,
		extractor: cfg.Extractor,
		analyzer:  cfg.Analyzer,
		observer:  cfg.Observer,
		logger:    logger,
	}

	pool, err := workerpool.New(cfg.Pool, p.work, logger)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Start launches the workers.
func (p *Processor) Start() { p.pool.Start() }

// Stop drains the workers.
func (p *Processor) Stop() { p.pool.Stop() }

// Stats returns the worker pool counters.
func (p *Processor) Stats() workerpool.Stats { return p.pool.Stats() }

// Handle is a redpanda.MessageHandler. It blocks until the message has been
// processed so the consumer commits only handled offsets. Terminal failures
// are recorded in the inbox and acknowledged.
func (p *Processor) Handle(ctx context.Context, msg *redpanda.Message) error {
	key := idempotency.GenerateKey(msg.Topic, string(msg.Key), string(msg.Value))

	res, err := p.pool.Submit(ctx, key, json.RawMessage(msg.Value))
	if p.observer != nil {
		p.observer.ObserveWorkerPool(p.pool.Stats())
	}
	if err != nil {
		return fmt.Errorf("submit %s: %w", key, err)
	}
	if res.Err == nil {
		return nil
	}
	if idempotency.IsTerminal(res.Err) || errors.Is(res.Err, idempotency.ErrPreviouslyFailed) {
		p.logger.Warn("dropping message",
			zap.String("key", key),
			zap.Int64("offset", msg.Offset),
			zap.Error(res.Err))
		return nil
	}
	return res.Err
}

func (p *Processor) work(ctx context.Context, task *workerpool.Task) (interface{}, error) {
	payload := task.Payload.(json.RawMessage)
	res, err := p.inbox.Process(ctx, task.ID, HandlerName, payload, p.ingest)
	if err != nil {
		if idempotency.IsTerminal(err) || errors.Is(err, idempotency.ErrPreviouslyFailed) {
			return nil, workerpool.Permanent(err)
		}
		return nil, err
	}
	if res.Duplicate {
		p.logger.Debug("message already processed", zap.String("key", task.ID))
	}
	return res, nil
}

func (p *Processor) ingest(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, idempotency.Terminal(fmt.Errorf("decode message: %w", err))
	}

	text, err := p.narrativeText(ctx, msg)
	if err != nil {
		return nil, err
	}

	section := msg.Section
	if section == "" {
		section = narrative.MedicationSection
	}
	if body, ok := extraction.SelectSection(text, section); ok {
		text = body
	}

	start := time.Now()
	result := p.extractor.Extract(text)
	if p.observer != nil {
		p.observer.ObserveExtraction(result, time.Since(start))
	}

	out := Outcome{Status: result.Status, Malformed: result.Malformed}
	if entries := result.Entries(); len(entries) > 0 {
		up, err := p.reminders.UpsertFromEntries(ctx, entries)
		if err != nil {
			if errors.Is(err, reminder.ErrInvalidInput) {
				return nil, idempotency.Terminal(err)
			}
			return nil, fmt.Errorf("upsert reminders: %w", err)
		}
		out.Inserted = len(up.Inserted)
		if p.observer != nil {
			p.observer.ObserveReminderUpsert(out.Inserted)
		}
	}

	p.logger.Info("narrative ingested",
		zap.String("status", string(out.Status)),
		zap.Int("inserted", out.Inserted))

	return json.Marshal(out)
}

func (p *Processor) narrativeText(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.Text) != "" {
		return msg.Text, nil
	}
	if msg.Request == nil {
		return "", idempotency.Terminal(ErrEmptyMessage)
	}
	if p.analyzer == nil {
		return "", idempotency.Terminal(errors.New("analysis requested but no narrative service is configured"))
	}

	text, err := p.analyzer.Analyze(ctx, *msg.Request)
	switch {
	case errors.Is(err, narrative.ErrInvalidRequest), errors.Is(err, narrative.ErrRejected):
		return "", idempotency.Terminal(err)
	case err != nil:
		return "", fmt.Errorf("analyze: %w", err)
	}
	return text, nil
}
