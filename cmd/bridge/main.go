// Command bridge consumes the kafka record change feed and republishes each
// change to redis pub/sub, which is where remote ledger adapters in other
// processes listen for invalidation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-ledger/internal/feed"
	"github.com/example/ride-ledger/internal/logging"
	"github.com/example/ride-ledger/internal/models"
	"github.com/example/ride-ledger/internal/notify"
)

var (
	changesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_changes_consumed_total",
		Help: "Total record change messages consumed",
	})
	changesInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_changes_invalid_total",
		Help: "Total malformed change messages received",
	})
	republished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_republished_total",
		Help: "Total changes republished to redis",
	})
	republishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_republish_errors_total",
		Help: "Total redis republish failures",
	})
)

func init() {
	prometheus.MustRegister(changesConsumed, changesInvalid, republished, republishErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger("bridge", os.Getenv("LOG_LEVEL"))

	brokers := splitList(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := envOr("KAFKA_TOPIC", "ride-record-changes")
	group := envOr("KAFKA_GROUP", "ride-ledger-bridge")

	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	channel := envOr("REDIS_CHANNEL", "ride-ledger-changes")
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	pub := notify.NewPublisher(redisAddr, os.Getenv("REDIS_PASSWORD"), channel)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = pub.Close()
		_ = rc.Close()
	}()

	logger.Info("bridge consuming", "topic", topic, "brokers", brokers, "group", group, "channel", channel)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down bridge")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		changesConsumed.Inc()

		var ch feed.Change
		if err := json.Unmarshal(m.Value, &ch); err != nil {
			changesInvalid.Inc()
			logger.Warn("invalid change message", "error", err)
			continue
		}

		if err := republishWithRetry(ctx, pub, ch, 3, 200*time.Millisecond); err != nil {
			republishErrors.Inc()
			logger.Warn("republish failed", "kind", string(ch.Kind), "record_id", ch.RecordID, "error", err)
			continue
		}
		republished.Inc()
	}
}

// ChangePublisher is the subset of the redis publisher the bridge needs;
// tests substitute a fake.
type ChangePublisher interface {
	Announce(ctx context.Context, action models.Action, recordID int64) error
}

// republishWithRetry republishes one change with exponential backoff.
func republishWithRetry(ctx context.Context, pub ChangePublisher, ch feed.Change, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = pub.Announce(ctx, ch.Kind, ch.RecordID); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
