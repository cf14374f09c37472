package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smart-greenhouse/telemetry/internal/services/telemetry"
	"github.com/smart-greenhouse/telemetry/internal/storage"
	"github.com/smart-greenhouse/telemetry/pkg/mqttconn"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := struct {
		MQTT mqttconn.Config

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		TopicPrefix   string
		QueueSize     int
		BatchSize     int
		FlushInterval time.Duration

		HTTPPort       int
		ShutdownGrace  time.Duration
		ReadinessGrace time.Duration
	}{
		MQTT: mqttconn.Config{
			Host:          envStr("MQTT_HOST", "localhost"),
			Port:          envInt("MQTT_PORT", 1883),
			User:          envStr("MQTT_USER", ""),
			Password:      envStr("MQTT_PASS", ""),
			ClientID:      envStr("MQTT_CLIENT_ID", "greenhouse-telemetry"),
			RetryInterval: time.Duration(envInt("MQTT_RETRY_MS", 2000)) * time.Millisecond,
		},

		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "greenhouse"),
		InfluxBucket: envStr("INFLUX_BUCKET", "telemetry"),

		TopicPrefix:   envStr("TOPIC_PREFIX", "greenhouse"),
		QueueSize:     envInt("APPEND_QUEUE_SIZE", 1024),
		BatchSize:     envInt("WRITE_BATCH_SIZE", 10),
		FlushInterval: time.Duration(envInt("WRITE_FLUSH_INTERVAL_MS", 200)) * time.Millisecond,

		HTTPPort:       envInt("HTTP_PORT", 8080),
		ShutdownGrace:  5 * time.Second,
		ReadinessGrace: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === InfluxDB ===
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetPrecision(time.Millisecond)
	influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	defer influx.Close()

	store, err := storage.NewStore(influx, storage.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	})
	if err != nil {
		log.Fatalf("telemetry: store init failed: %v", err)
	}

	// === Ingestion pipeline ===
	hub := telemetry.NewLiveHub()
	go hub.Run(ctx)

	sub := telemetry.NewSubscriber(store, hub, cfg.QueueSize)
	go sub.Run(ctx)

	topics := append(
		telemetry.SensorTopics(cfg.TopicPrefix),
		telemetry.ActuatorTopics(cfg.TopicPrefix)...)
	consumer := mqttconn.NewConsumer(topics, 1, sub.HandleMessage)

	// Subscriptions are (re)established from the OnConnect hook so a broker
	// reconnect restores the full topic set.
	mqttClient, err := mqttconn.NewConn(&cfg.MQTT, ctx, consumer.Subscribe)
	if err != nil {
		log.Fatalf("telemetry: mqtt connection error: %v", err)
	}
	defer mqttconn.Close(mqttClient)

	// === HTTP ===
	engine := telemetry.NewEngine(store)
	api := telemetry.NewAPI(engine)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/ws/live", hub)
	mux.Handle("/healthz", telemetry.NewHealthHandler(mqttClient, store))
	mux.Handle("/readyz", telemetry.NewReadyHandler(mqttClient, store, cfg.ReadinessGrace))
	mux.Handle("/metrics", promhttp.Handler())

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("telemetry: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("telemetry: http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("telemetry: shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)

	// Let the write API push out whatever is still batched.
	store.Flush()
	time.Sleep(cfg.FlushInterval + 100*time.Millisecond)
}
