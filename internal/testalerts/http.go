package testalerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
)

// HTTPClient wraps http.Client with a timeout.
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
}

// newHTTPClient creates a new HTTP client with the configured timeout.
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// readResponseBody reads and closes the response body.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitNotices announces every synthetic event, in order.
func submitNotices(ctx context.Context, config *Config, events []syntheticEvent, stats *Stats) error {
	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/notices"

	for i := range events {
		resp, err := client.Post(ctx, url, events[i].Notice)
		if err != nil {
			stats.NoticesFailed++
			logger.Get().Warn(ctx, "notice submission failed",
				logger.String("eventID", events[i].ID), logger.Error(err))
			continue
		}
		body, err := readResponseBody(resp)
		if err != nil || resp.StatusCode != StatusAccepted {
			stats.NoticesFailed++
			logger.Get().Warn(ctx, "notice rejected",
				logger.String("eventID", events[i].ID),
				logger.Int("status", resp.StatusCode),
				logger.String("body", string(body)))
			continue
		}
		stats.NoticesAccepted++
	}

	if stats.NoticesAccepted == 0 {
		return fmt.Errorf("no notices were accepted")
	}
	logger.Get().Info(ctx, "notices submitted",
		logger.Int("accepted", stats.NoticesAccepted),
		logger.Int("failed", stats.NoticesFailed))
	return nil
}

// submitDetections submits detections concurrently using a worker pool.
func submitDetections(ctx context.Context, config *Config, detections []Detection, stats *Stats) error {
	logger.Get().Info(ctx, "submitting detections",
		logger.Int("count", len(detections)),
		logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/detections"

	var (
		accepted  int64
		duplicate int64
		failed    int64
	)

	detectionChan := make(chan Detection, config.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range detectionChan {
				select {
				case <-ctx.Done():
					return
				default:
					switch submitSingleDetection(ctx, client, url, d) {
					case "accepted":
						atomic.AddInt64(&accepted, 1)
					case "duplicate":
						atomic.AddInt64(&duplicate, 1)
					default:
						atomic.AddInt64(&failed, 1)
					}
				}
			}
		}()
	}

	go func() {
		defer close(detectionChan)
		for _, d := range detections {
			select {
			case <-ctx.Done():
				return
			case detectionChan <- d:
			}
		}
	}()

	wg.Wait()

	stats.DetectionsAccepted = int(atomic.LoadInt64(&accepted))
	stats.DetectionsDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.DetectionsFailed = int(atomic.LoadInt64(&failed))

	logger.Get().Info(ctx, "detection submission completed",
		logger.Int("accepted", stats.DetectionsAccepted),
		logger.Int("duplicate", stats.DetectionsDuplicate),
		logger.Int("failed", stats.DetectionsFailed))
	return nil
}

// submitSingleDetection submits one detection and classifies the outcome.
func submitSingleDetection(ctx context.Context, client *HTTPClient, url string, d Detection) string {
	resp, err := client.Post(ctx, url, d)
	if err != nil {
		return "failed"
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return "failed"
	}

	switch resp.StatusCode {
	case StatusAccepted:
		return "accepted"
	case StatusOK:
		var ack AckResponse
		if err := json.Unmarshal(body, &ack); err == nil && ack.Duplicate {
			return "duplicate"
		}
		return "duplicate"
	default:
		return "failed"
	}
}
