package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix is the Redis key prefix for engine metrics.
	keyPrefix = "metrics:"
	// metricsTTL is how long metrics stay in Redis if not refreshed.
	metricsTTL = 2 * time.Minute
	// defaultReportInterval is how often metrics are written to Redis.
	defaultReportInterval = 30 * time.Second
)

// EngineMetrics is the snapshot written to the metrics sink for one
// engine process.
type EngineMetrics struct {
	EngineName  string    `json:"engine_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`

	AlarmsFinishedCount       uint64 `json:"alarms_finished_count"`
	AlarmsFailedParseCount    uint64 `json:"alarms_failed_parse_count"`
	AlarmsNoNotificationCount uint64 `json:"alarms_no_notification_count"`
	CreatedCount              uint64 `json:"created_count"`
	KafkaConsumerErrors       uint64 `json:"kafka_consumer_errors"`

	// Dimensioned counters, keyed name.dimension: notifications_sent.<type>,
	// notification_send_errors.<type>, kafka_producer_errors.<topic>.
	Counters map[string]uint64 `json:"counters,omitempty"`

	// AvgSendLatencyNs holds the all-time average dispatch latency per
	// notification type.
	AvgSendLatencyNs map[string]float64 `json:"avg_send_latency_ns,omitempty"`
}

// Collector records pipeline counters in memory and periodically reports
// them to Redis.
type Collector struct {
	engineName     string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	alarmsFinished   atomic.Uint64
	parseFailures    atomic.Uint64
	noNotifications  atomic.Uint64
	created          atomic.Uint64
	consumerErrors   atomic.Uint64

	mu        sync.RWMutex
	counters  map[string]*atomic.Uint64
	latencyNs map[string]*atomic.Uint64
	sendCount map[string]*atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ConnectRedis creates and validates a Redis connection for the metrics
// sink.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewCollector creates a metrics collector for one engine process.
func NewCollector(engineName string, redisClient *redis.Client) *Collector {
	return &Collector{
		engineName:     engineName,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: defaultReportInterval,
		counters:       make(map[string]*atomic.Uint64),
		latencyNs:      make(map[string]*atomic.Uint64),
		sendCount:      make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic reporting loop.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background())
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop stops the reporting loop after a final write.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) RecordAlarmFinished() { c.alarmsFinished.Add(1) }
func (c *Collector) RecordParseFailure()  { c.parseFailures.Add(1) }
func (c *Collector) RecordNoNotification() { c.noNotifications.Add(1) }

func (c *Collector) RecordCreated(count int) {
	if count > 0 {
		c.created.Add(uint64(count))
	}
}

func (c *Collector) RecordSent(notificationType string) {
	c.counter("notifications_sent." + notificationType).Add(1)
}

func (c *Collector) RecordSendError(notificationType string) {
	c.counter("notification_send_errors." + notificationType).Add(1)
}

func (c *Collector) RecordInvalidType() {
	c.counter("notification_send_errors.INVALID").Add(1)
}

func (c *Collector) RecordSendLatency(notificationType string, latency time.Duration) {
	c.mu.Lock()
	total, ok := c.latencyNs[notificationType]
	if !ok {
		total = &atomic.Uint64{}
		c.latencyNs[notificationType] = total
		c.sendCount[notificationType] = &atomic.Uint64{}
	}
	count := c.sendCount[notificationType]
	c.mu.Unlock()

	total.Add(uint64(latency.Nanoseconds()))
	count.Add(1)
}

func (c *Collector) RecordConsumerError() { c.consumerErrors.Add(1) }

func (c *Collector) RecordProducerError(topic string) {
	c.counter("kafka_producer_errors." + topic).Add(1)
}

func (c *Collector) counter(name string) *atomic.Uint64 {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return counter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, ok = c.counters[name]; !ok {
		counter = &atomic.Uint64{}
		c.counters[name] = counter
	}
	return counter
}

// Snapshot returns the current metrics without writing them to Redis.
func (c *Collector) Snapshot() *EngineMetrics {
	snapshot := &EngineMetrics{
		EngineName:                c.engineName,
		StartedAt:                 c.startedAt,
		LastUpdated:               time.Now().UTC(),
		AlarmsFinishedCount:       c.alarmsFinished.Load(),
		AlarmsFailedParseCount:    c.parseFailures.Load(),
		AlarmsNoNotificationCount: c.noNotifications.Load(),
		CreatedCount:              c.created.Load(),
		KafkaConsumerErrors:       c.consumerErrors.Load(),
		Counters:                  make(map[string]uint64),
		AvgSendLatencyNs:          make(map[string]float64),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, counter := range c.counters {
		snapshot.Counters[name] = counter.Load()
	}
	for notificationType, total := range c.latencyNs {
		if count := c.sendCount[notificationType].Load(); count > 0 {
			snapshot.AvgSendLatencyNs[notificationType] = float64(total.Load()) / float64(count)
		}
	}
	return snapshot
}

func (c *Collector) write(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snapshot := c.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("Failed to marshal metrics", "engine", c.engineName, "error", err)
		return
	}

	key := keyPrefix + c.engineName
	if err := c.redis.Set(ctx, key, data, metricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "engine", c.engineName, "error", err)
		return
	}
	slog.Debug("Metrics written to Redis", "engine", c.engineName, "key", key)
}

var _ Recorder = (*Collector)(nil)
