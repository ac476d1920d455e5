package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventInserter writes a batch of events to the warehouse.
type EventInserter interface {
	InsertEvents(ctx context.Context, events []Event) error
}

// IngestConfig configures an IngestService.
type IngestConfig struct {
	NumWorkers    int           `yaml:"num_workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type pendingEvent struct {
	msg   Message
	event Event
}

// IngestService moves events from a consumer into the warehouse. Decode
// workers parse messages, a single batcher groups them and the whole batch is
// Acked on a successful insert or Nacked on failure, so delivery is
// at-least-once. Malformed messages are Acked and dropped.
type IngestService struct {
	cfg      IngestConfig
	consumer MessageConsumer
	inserter EventInserter
	logger   zerolog.Logger

	decodeWg  sync.WaitGroup
	batchWg   sync.WaitGroup
	batchChan chan pendingEvent
}

// NewIngestService creates an IngestService.
func NewIngestService(cfg IngestConfig, consumer MessageConsumer, inserter EventInserter, logger zerolog.Logger) (*IngestService, error) {
	if consumer == nil || inserter == nil {
		return nil, fmt.Errorf("consumer and inserter cannot be nil")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	return &IngestService{
		cfg:       cfg,
		consumer:  consumer,
		inserter:  inserter,
		logger:    logger.With().Str("service", "IngestService").Logger(),
		batchChan: make(chan pendingEvent, cfg.BatchSize*cfg.NumWorkers),
	}, nil
}

// Start starts the consumer and the workers.
func (s *IngestService) Start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.batchWg.Add(1)
	go s.batchWorker()

	s.decodeWg.Add(s.cfg.NumWorkers)
	for i := 0; i < s.cfg.NumWorkers; i++ {
		go s.decodeWorker(i)
	}
	// batchChan has several writers; close it only after all of them exit.
	go func() {
		s.decodeWg.Wait()
		close(s.batchChan)
	}()

	s.logger.Info().Int("worker_count", s.cfg.NumWorkers).Msg("Ingest service started.")
	return nil
}

// Stop stops the consumer, then waits for the final batch to flush.
func (s *IngestService) Stop(ctx context.Context) error {
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	allDone := make(chan struct{})
	go func() {
		s.decodeWg.Wait()
		s.batchWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		s.logger.Info().Msg("Ingest service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for ingest workers to finish.")
		return ctx.Err()
	}
}

// decodeWorker runs until the consumer closes its channel, so that every
// received message reaches the batcher before shutdown.
func (s *IngestService) decodeWorker(workerID int) {
	defer s.decodeWg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Decode worker started.")
	for msg := range s.consumer.Messages() {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Malformed event, Acking and dropping.")
			msg.Ack()
			continue
		}
		if err := e.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Invalid event, Acking and dropping.")
			msg.Ack()
			continue
		}
		s.batchChan <- pendingEvent{msg: msg, event: e}
	}
}

func (s *IngestService) batchWorker() {
	defer s.batchWg.Done()

	batch := make([]pendingEvent, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.insert(batch)
		batch = make([]pendingEvent, 0, s.cfg.BatchSize)
		ticker.Reset(s.cfg.FlushInterval)
	}

	for {
		select {
		case item, ok := <-s.batchChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, item)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *IngestService) insert(batch []pendingEvent) {
	// Inserts outlive the service context so the final flush still lands.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events := make([]Event, len(batch))
	for i, item := range batch {
		events[i] = item.event
	}
	if err := s.inserter.InsertEvents(ctx, events); err != nil {
		s.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert batch, Nacking all messages.")
		for _, item := range batch {
			item.msg.Nack()
		}
		return
	}
	s.logger.Info().Int("batch_size", len(batch)).Msg("Inserted batch, Acking all messages.")
	for _, item := range batch {
		item.msg.Ack()
	}
}
