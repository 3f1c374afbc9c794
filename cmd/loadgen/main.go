// Command loadgen generates synthetic metric traffic against a running
// server, for demos and soak testing: sinusoidal gauges, monotonic
// counters, and log-normally distributed histogram samples.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insightboard/insightboard/internal/model"
)

type series struct {
	name       string
	metricType string
	counter    float64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "server base URL")
	email := flag.String("email", "", "login email")
	password := flag.String("password", "", "login password")
	dashboardID := flag.Int64("dashboard", 0, "dashboard id to write to")
	rate := flag.Float64("rate", 1.0, "batches per second")
	duration := flag.Duration("duration", time.Minute, "how long to generate")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *email == "" || *password == "" || *dashboardID == 0 {
		logger.Error("email, password, and dashboard are required")
		os.Exit(1)
	}
	if *rate <= 0 {
		logger.Error("rate must be positive")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	client := &http.Client{Timeout: 10 * time.Second}

	token, err := login(ctx, client, *baseURL, *email, *password)
	if err != nil {
		logger.Error("login failed", "error", err)
		os.Exit(1)
	}

	specs := []*series{
		{name: "cpu_usage", metricType: model.TypeGauge},
		{name: "memory_mb", metricType: model.TypeGauge},
		{name: "request_count", metricType: model.TypeCounter},
		{name: "response_time_ms", metricType: model.TypeHistogram},
	}

	logger.Info("starting generation",
		"dashboard_id", *dashboardID,
		"rate", *rate,
		"duration", *duration,
	)

	interval := time.Duration(float64(time.Second) / *rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(*duration)
	iteration := 0
	sent := 0

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			logger.Info("interrupted", "batches_sent", sent)
			return
		case <-ticker.C:
		}

		batch := make([]model.MetricRecord, 0, len(specs))
		for _, sp := range specs {
			batch = append(batch, model.MetricRecord{
				DashboardID: *dashboardID,
				Name:        sp.name,
				Value:       sp.next(iteration),
				MetricType:  sp.metricType,
				Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
			})
		}
		iteration++

		if err := ingest(ctx, client, *baseURL, token, batch); err != nil {
			logger.Error("ingest failed", "error", err)
			continue
		}
		sent++
	}

	logger.Info("generation finished", "batches_sent", sent)
}

// next produces the series' value for an iteration.
func (s *series) next(iteration int) float64 {
	switch s.metricType {
	case model.TypeCounter:
		s.counter += float64(rand.Intn(10) + 1)
		return s.counter
	case model.TypeHistogram:
		// Log-normal: most samples small, occasional large outliers.
		return math.Exp(rand.NormFloat64()*0.5 + 4)
	default:
		base := 50 + 30*math.Sin(float64(iteration)/10)
		return base + rand.Float64()*10 - 5
	}
}

func login(ctx context.Context, client *http.Client, baseURL, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func ingest(ctx context.Context, client *http.Client, baseURL, token string, batch []model.MetricRecord) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/metrics/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("ingest returned %d", resp.StatusCode)
	}
	return nil
}
