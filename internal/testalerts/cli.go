package testalerts

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "test_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the alert feed test tool.
func ShowHelp() {
	os.Stdout.WriteString(`SAGUARO Alert Feed Test Tool
============================

Generates synthetic gravitational-wave events and candidate detections,
submits them to a running counterpart service, and verifies that every
in-region detection surfaces as a viable association.

Usage:
  go run cmd/test-alerts/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -events int
        Number of synthetic events to announce (default 20)
  -per-event int
        Detections generated per event (default 50)
  -in-region float
        Fraction of detections placed inside the credible region (default 0.3)
  -workers int
        Number of concurrent submitters (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Output file for generated detections (default: generated_detections_TIMESTAMP.json)
  -log string
        Log file for test output (default: test_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Test with default settings
  go run cmd/test-alerts/main.go

  # A heavier run against a remote deployment
  go run cmd/test-alerts/main.go -events 100 -per-event 200 -workers 16 -url http://tom.example:9080
`)
}
