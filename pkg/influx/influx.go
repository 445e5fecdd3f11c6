package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/octobridge/pkg/consumption"
	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultBatchSize      = 100
)

var (
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("influx: connection failed")
	// ErrNotConnected is returned by HealthCheck before Connect or after Close.
	ErrNotConnected = errors.New("influx: not connected")
)

// Writer records consumption, cost and numeric entity states in InfluxDB.
// Writes are batched and non-blocking.
type Writer struct {
	url           string
	token         string
	org           string
	bucket        string
	flushInterval time.Duration

	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected bool
	mu        sync.RWMutex
}

// Configured sets up flags for InfluxDB and returns the writer. When no URL
// is configured the writer stays disabled.
func Configured() *Writer {
	w := &Writer{}
	url := lflag.String("influx-url", "", "InfluxDB URL (e.g. http://localhost:8086), empty disables InfluxDB")
	token := lflag.String("influx-token", "", "InfluxDB API token")
	org := lflag.String("influx-org", "octobridge", "InfluxDB organization")
	bucket := lflag.String("influx-bucket", "octobridge", "InfluxDB bucket")
	flushInterval := lflag.Duration("influx-flush-interval", 10*time.Second, "How often batched points are flushed")

	lflag.Do(func() {
		w.url = *url
		w.token = *token
		w.org = *org
		w.bucket = *bucket
		w.flushInterval = *flushInterval
		if w.flushInterval <= 0 {
			w.flushInterval = 10 * time.Second
		}
	})

	return w
}

// newWriter returns a connected writer on an existing write API.
func newWriter(writeAPI api.WriteAPI) *Writer {
	return &Writer{
		writeAPI:  writeAPI,
		connected: true,
	}
}

// Enabled reports whether a server is configured.
func (w *Writer) Enabled() bool {
	return w.url != ""
}

// Connect pings the server and sets up the batching write API.
func (w *Writer) Connect(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}

	client := influxdb2.NewClientWithOptions(
		w.url,
		w.token,
		influxdb2.DefaultOptions().
			SetBatchSize(defaultBatchSize).
			SetFlushInterval(uint(w.flushInterval.Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w.client = client
	w.writeAPI = client.WriteAPI(w.org, w.bucket)

	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()

	logCtx := log.WithAttrs(context.WithoutCancel(ctx), slog.String("component", "influx"))
	go w.handleWriteErrors(logCtx, w.writeAPI.Errors())

	log.Ctx(ctx).Info("connected to influxdb", slog.String("url", w.url), slog.String("bucket", w.bucket))
	return nil
}

func (w *Writer) handleWriteErrors(ctx context.Context, errorsCh <-chan error) {
	for err := range errorsCh {
		log.Ctx(ctx).Warn("failed to write points to influxdb", slog.Any("error", err))
	}
}

// IsConnected returns the last known connection state.
func (w *Writer) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// HealthCheck pings the server.
func (w *Writer) HealthCheck(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}
	if !w.IsConnected() || w.client == nil {
		return ErrNotConnected
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := w.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return errors.New("influxdb health check failed: server not healthy")
	}
	return nil
}

// Close flushes pending points and closes the client.
func (w *Writer) Close() error {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	if w.writeAPI != nil {
		w.writeAPI.Flush()
	}
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

func meterTags(meter types.Meter) map[string]string {
	return map[string]string{
		"fuel":          string(meter.Fuel),
		"mpan_mprn":     meter.PointID,
		"serial_number": meter.SerialNumber,
		"is_export":     strconv.FormatBool(meter.IsExport),
	}
}

// WriteConsumption records each half hour of a consumption series.
func (w *Writer) WriteConsumption(meter types.Meter, data []types.Consumption) {
	if !w.IsConnected() {
		return
	}
	for _, c := range data {
		w.writeAPI.WritePoint(write.NewPoint(
			"consumption",
			meterTags(meter),
			map[string]interface{}{
				"consumption": c.Consumption,
			},
			c.IntervalStart,
		))
	}
}

// WriteCost records the rate and cost of each half hour of a cost
// calculation.
func (w *Writer) WriteCost(meter types.Meter, tariffCode string, cost consumption.Cost) {
	if !w.IsConnected() {
		return
	}
	for _, c := range cost.Charges {
		tags := meterTags(meter)
		tags["tariff_code"] = tariffCode
		w.writeAPI.WritePoint(write.NewPoint(
			"cost",
			tags,
			map[string]interface{}{
				"rate": c.Rate,
				"cost": c.Cost,
			},
			c.From,
		))
	}
}

// Announce implements entity.Sink. Nothing needs announcing to InfluxDB.
func (w *Writer) Announce(ctx context.Context, e entity.Entity) error {
	return nil
}

// PublishState implements entity.Sink by recording numeric states.
func (w *Writer) PublishState(ctx context.Context, e entity.Entity, state types.EntityState) error {
	if !w.IsConnected() {
		return nil
	}
	v, err := strconv.ParseFloat(state.State, 64)
	if err != nil {
		// tariff codes, on/off and unknown are not recorded
		return nil
	}
	ts := state.LastUpdated
	if ts.IsZero() {
		ts = time.Now()
	}
	w.writeAPI.WritePoint(write.NewPoint(
		"entity_state",
		map[string]string{
			"entity_id": e.EntityID(),
			"platform":  string(e.Platform()),
		},
		map[string]interface{}{
			"value": v,
		},
		ts,
	))
	return nil
}

var _ entity.Sink = (*Writer)(nil)
