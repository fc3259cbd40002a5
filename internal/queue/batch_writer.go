package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smukkama/awair-bridge/internal/protocol"
)

// RecordStore persists what the batch writer consumes
type RecordStore interface {
	UpsertLatest(ctx context.Context, updates []protocol.Update) error
	InsertAlert(ctx context.Context, alert *protocol.AlertEvent) error
}

type latestKey struct {
	serial string
	char   protocol.Characteristic
}

// BatchWriter consumes characteristic updates and alerts from Kafka and
// batch-writes them to the record store
type BatchWriter struct {
	source        MessageSource
	records       RecordStore
	batchSize     int
	flushInterval time.Duration
	alertsTopic   string
	retryBackoff  time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	mu      sync.Mutex
	written int
	failed  int
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, store RecordStore, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchWriter{
		source:        source,
		records:       store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		alertsTopic:   TopicAlerts,
		retryBackoff:  time.Second,
		stopCh:        make(chan struct{}),
	}
}

// WithAlertsTopic sets the topic whose messages are decoded as alert events
func (bw *BatchWriter) WithAlertsTopic(topic string) *BatchWriter {
	bw.alertsTopic = topic
	return bw
}

// WithRetryBackoff sets the first delay between store retries. It doubles up to maxRetryBackoff.
func (bw *BatchWriter) WithRetryBackoff(d time.Duration) *BatchWriter {
	if d > 0 {
		bw.retryBackoff = d
	}
	return bw
}

// Start begins consuming and writing
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes the pending batch and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	bw.stopOnce.Do(func() { close(bw.stopCh) })
	bw.wg.Wait()
}

// Stats returns the number of stored and rejected messages
func (bw *BatchWriter) Stats() (written, failed int) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.written, bw.failed
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go func() {
		defer close(msgChan)
		for {
			msg, err := bw.source.Consume(consumeCtx)
			if err != nil {
				if consumeCtx.Err() != nil {
					return
				}
				log.Printf("Consumer error: %v", err)
				time.Sleep(time.Second)
				continue
			}
			select {
			case msgChan <- msg:
			case <-consumeCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-bw.stopCh:
			bw.flush(ctx, batch)
			return

		case <-ctx.Done():
			bw.flush(context.Background(), batch)
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.flush(ctx, batch)
				batch = nil
			}

		case msg, ok := <-msgChan:
			if !ok {
				bw.flush(context.Background(), batch)
				return
			}
			batch = append(batch, msg)

			if len(batch) >= bw.batchSize {
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

const maxRetryBackoff = 30 * time.Second

// flush stores a batch. Updates are collapsed to the newest value per device
// and characteristic before the upsert; malformed messages are skipped and
// still committed so they do not block the partition. A store failure is
// retried until it succeeds or the writer stops, and nothing is committed
// until the whole batch is stored.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	latest := make(map[latestKey]protocol.Update)
	var order []latestKey
	var alerts []*protocol.AlertEvent
	stored, failed := 0, 0

	for _, msg := range batch {
		if msg.Topic == bw.alertsTopic {
			alert, err := protocol.DecodeAlertEvent(msg.Value)
			if err != nil {
				log.Printf("Failed to decode alert (partition=%d, offset=%d): %v", msg.Partition, msg.Offset, err)
				failed++
				continue
			}
			alerts = append(alerts, alert)
			stored++
			continue
		}

		u, err := protocol.DecodeUpdate(msg.Value)
		if err != nil {
			log.Printf("Failed to decode update (partition=%d, offset=%d): %v", msg.Partition, msg.Offset, err)
			failed++
			continue
		}

		k := latestKey{serial: u.Device.Serial, char: u.Characteristic}
		prev, seen := latest[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || !u.Timestamp.Before(prev.Timestamp) {
			latest[k] = *u
		}
		stored++
	}

	updates := make([]protocol.Update, 0, len(order))
	for _, k := range order {
		updates = append(updates, latest[k])
	}

	backoff := bw.retryBackoff
	for {
		err := bw.store(ctx, &updates, &alerts)
		if err == nil {
			break
		}

		log.Printf("Failed to store batch of %d messages, retrying in %s: %v", stored, backoff, err)
		select {
		case <-time.After(backoff):
		case <-bw.stopCh:
			// the group resumes from the last committed offset on restart
			log.Printf("Stopping with %d messages uncommitted", len(batch))
			bw.record(0, len(batch))
			return
		case <-ctx.Done():
			log.Printf("Stopping with %d messages uncommitted", len(batch))
			bw.record(0, len(batch))
			return
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}

	if err := bw.source.Commit(ctx, batch...); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Failed to commit offsets: %v", err)
	}

	bw.record(stored, failed)
	log.Printf("Flushed batch of %d messages (%d rejected)", stored, failed)
}

// store writes what is left of a batch. Written parts are cleared so a retry
// does not insert an alert twice.
func (bw *BatchWriter) store(ctx context.Context, updates *[]protocol.Update, alerts *[]*protocol.AlertEvent) error {
	if len(*updates) > 0 {
		if err := bw.records.UpsertLatest(ctx, *updates); err != nil {
			return err
		}
		*updates = nil
	}
	for len(*alerts) > 0 {
		if err := bw.records.InsertAlert(ctx, (*alerts)[0]); err != nil {
			return err
		}
		*alerts = (*alerts)[1:]
	}
	return nil
}

func (bw *BatchWriter) record(written, failed int) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	bw.written += written
	bw.failed += failed
}

// String describes the writer for logs
func (bw *BatchWriter) String() string {
	return fmt.Sprintf("BatchWriter(size=%d, interval=%s)", bw.batchSize, bw.flushInterval)
}
