package testalerts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
)

// File permission constants.
const (
	outputFilePermission = 0600
)

// Run executes the complete alert feed test: announce synthetic events,
// flood detections, then verify the resulting associations.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting alert feed test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("events", config.NumEvents),
		logger.Int("perEvent", config.PerEvent),
		logger.Float64("inRegionShare", config.InRegionShare),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()))

	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	events, err := generateEvents(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("event generation failed: %w", err)
	}
	if err := submitNotices(ctx, config, events, stats); err != nil {
		return fmt.Errorf("notice submission failed: %w", err)
	}

	detections := generateDetections(ctx, config, events, stats)
	if err := submitDetections(ctx, config, detections, stats); err != nil {
		return fmt.Errorf("detection submission failed: %w", err)
	}

	logger.Get().Info(ctx, "waiting for the matching workers to settle")
	time.Sleep(MatchSettleDelay)

	if err := verifyAssociations(ctx, config, events, detections, stats); err != nil {
		return fmt.Errorf("association verification failed: %w", err)
	}

	if err := saveDetectionsToFile(ctx, config, detections); err != nil {
		logger.Get().Warn(ctx, "failed to save detections to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close response body", logger.Error(err))
		}
	}()

	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveDetectionsToFile writes the generated detections to a JSON file.
func saveDetectionsToFile(ctx context.Context, config *Config, detections []Detection) error {
	if len(detections) == 0 {
		return fmt.Errorf("no detections to save")
	}

	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "generated_detections_" + timestamp + ".json"
	}

	data, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}
	if err := os.WriteFile(filename, data, outputFilePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Get().Info(ctx, "detections saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats prints the final test statistics.
func displayFinalStats(stats *Stats) {
	var matchRate, detectionsPerSecond float64

	if stats.ExpectedMatches > 0 {
		matchRate = float64(stats.ObservedMatches) / float64(stats.ExpectedMatches) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		detectionsPerSecond = float64(stats.DetectionsGenerated) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("noticesAccepted", stats.NoticesAccepted),
		logger.Int("noticesFailed", stats.NoticesFailed),
		logger.Int("detectionsGenerated", stats.DetectionsGenerated),
		logger.Int("detectionsAccepted", stats.DetectionsAccepted),
		logger.Int("detectionsDuplicate", stats.DetectionsDuplicate),
		logger.Int("detectionsFailed", stats.DetectionsFailed),
		logger.Int("expectedMatches", stats.ExpectedMatches),
		logger.Int("observedMatches", stats.ObservedMatches),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("matchRate", matchRate),
		logger.Float64("detectionsPerSecond", detectionsPerSecond))
}
