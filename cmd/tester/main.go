package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-resty/resty/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/httpserver/handler"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

const (
	kindText   = "text"
	kindStatus = "status"
)

var (
	envelopesAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_webhook_envelopes_attempted_total",
		Help: "Webhook envelopes the load generator tried to deliver.",
	}, []string{"kind"})
	envelopesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_webhook_envelopes_delivered_total",
		Help: "Webhook envelopes acknowledged with a 2xx.",
	}, []string{"kind"})
	envelopesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_webhook_envelopes_failed_total",
		Help: "Webhook envelopes that failed to build or were rejected.",
	}, []string{"kind"})
	deliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loadgen_webhook_delivery_seconds",
		Help:    "Round trip of a webhook POST.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// target describes where and as whom the generator posts.
type target struct {
	client            *resty.Client
	appSecret         string
	businessAccountID string
	phoneNumberIDs    []string
}

// task is a single envelope to deliver. Status tasks point at a wamid the
// generator produced earlier, so most of them reference unknown messages.
type task struct {
	kind          string
	phoneNumberID string
	seq           int
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	baseURL := flag.String("url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port), "Engine base URL")
	kindsStr := flag.String("kinds", kindText+","+kindStatus, "Comma-separated envelope kinds (text, status)")
	phoneIDsStr := flag.String("phone_number_ids", "1001", "Comma-separated provider phone number ids")
	rate := flag.Int("rate", 20, "Target envelopes per second")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent senders")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Webhook Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Posts synthetic WhatsApp Cloud envelopes to the CRM engine webhook.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *rate <= 0 || *concurrency <= 0 {
		fmt.Println("rate and concurrency must be positive")
		os.Exit(1)
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	kinds := splitList(*kindsStr)
	phoneIDs := splitList(*phoneIDsStr)
	if len(kinds) == 0 || len(phoneIDs) == 0 {
		logger.Log.Fatal("At least one kind and one phone number id are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)

	tgt := &target{
		client:            resty.New().SetBaseURL(strings.TrimRight(*baseURL, "/")).SetTimeout(30 * time.Second),
		appSecret:         cfg.WhatsApp.AppSecret,
		businessAccountID: cfg.WhatsApp.BusinessAccountID,
		phoneNumberIDs:    phoneIDs,
	}

	logger.Log.Info("Starting webhook load generator",
		zap.String("url", *baseURL),
		zap.Strings("kinds", kinds),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Bool("signed", tgt.appSecret != ""),
	)

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		defer wg.Done()
		tgt.deliver(data.(task))
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	runLoadLoop(ctx, *rate, *duration, kinds, phoneIDs, pool, &wg)

	logger.Log.Info("Waiting for in-flight deliveries to complete...")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Metrics server shutdown error", zap.Error(err))
	}
	logger.Log.Info("Load generator shutdown complete.")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func startMetricsServer(port int) *http.Server {
	logger.Log.Info("Starting Prometheus metrics server", zap.Int("port", port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()
	return server
}

// runLoadLoop submits one task per tick until the duration elapses or ctx ends.
func runLoadLoop(ctx context.Context, rate int, duration time.Duration, kinds, phoneIDs []string, pool *ants.PoolWithFunc, wg *sync.WaitGroup) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	for seq := 0; ; seq++ {
		select {
		case <-ctx.Done():
			return
		case <-durationTimer.C:
			logger.Log.Info("Load generation finished", zap.Int("submitted", seq))
			return
		case <-ticker.C:
			t := task{
				kind:          kinds[seq%len(kinds)],
				phoneNumberID: phoneIDs[seq%len(phoneIDs)],
				seq:           seq,
			}
			envelopesAttempted.WithLabelValues(t.kind).Inc()
			wg.Add(1)
			if err := pool.Invoke(t); err != nil {
				wg.Done()
				envelopesFailed.WithLabelValues(t.kind).Inc()
				logger.Log.Warn("Failed to submit delivery", zap.Error(err))
			}
		}
	}
}

// buildEnvelope renders the synthetic provider payload for t.
func (tgt *target) buildEnvelope(t task) ([]byte, error) {
	now := time.Now()
	var env *model.WebhookEnvelope
	switch t.kind {
	case kindText:
		env = model.NewTextEnvelope(
			tgt.businessAccountID,
			t.phoneNumberID,
			gofakeit.Numerify("549##########"),
			gofakeit.Name(),
			fmt.Sprintf("wamid.LOAD%d.%s", t.seq, gofakeit.LetterN(8)),
			gofakeit.Sentence(8),
			now,
		)
	case kindStatus:
		statuses := []string{model.ProviderStateSent, model.ProviderStateDelivered, model.ProviderStateRead}
		env = model.NewStatusEnvelope(
			tgt.businessAccountID,
			t.phoneNumberID,
			fmt.Sprintf("wamid.OUT%d", t.seq),
			statuses[t.seq%len(statuses)],
			now,
		)
	default:
		return nil, fmt.Errorf("unsupported envelope kind %q", t.kind)
	}
	return json.Marshal(env)
}

func (tgt *target) deliver(t task) {
	body, err := tgt.buildEnvelope(t)
	if err != nil {
		logger.Log.Error("Failed to build envelope", zap.String("kind", t.kind), zap.Error(err))
		envelopesFailed.WithLabelValues(t.kind).Inc()
		return
	}

	req := tgt.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if tgt.appSecret != "" {
		req.SetHeader(handler.SignatureHeader, handler.SignPayload(body, tgt.appSecret))
	}

	start := time.Now()
	resp, err := req.Post(handler.WebhookPath)
	deliveryLatency.WithLabelValues(t.kind).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Log.Warn("Webhook POST failed", zap.String("kind", t.kind), zap.Error(err))
		envelopesFailed.WithLabelValues(t.kind).Inc()
		return
	}
	if resp.IsError() {
		logger.Log.Warn("Webhook POST rejected",
			zap.String("kind", t.kind),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		envelopesFailed.WithLabelValues(t.kind).Inc()
		return
	}
	envelopesDelivered.WithLabelValues(t.kind).Inc()
}
