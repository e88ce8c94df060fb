package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/testalerts"
)

// Default configuration constants.
const (
	defaultNumEvents     = 20
	defaultPerEvent      = 50
	defaultInRegionShare = 0.3
	defaultWorkers       = 2 // multiplier for runtime.NumCPU()
	defaultTimeout       = 30 * time.Second
	defaultTestTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL       = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numEvents     = flag.Int("events", defaultNumEvents, "Number of synthetic events to announce")
		perEvent      = flag.Int("per-event", defaultPerEvent, "Detections generated per event")
		inRegionShare = flag.Float64("in-region", defaultInRegionShare, "Fraction of detections placed inside the credible region")
		workers       = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout       = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile    = flag.String("output", "", "Output file for generated detections (default: generated_detections_TIMESTAMP.json)")
		logFile       = flag.String("log", "", "Log file for test output (default: test_log_TIMESTAMP.log)")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging")
		help          = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testalerts.ShowHelp()
		return
	}

	if err := testalerts.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	config := &testalerts.Config{
		BaseURL:       *baseURL,
		NumEvents:     *numEvents,
		PerEvent:      *perEvent,
		InRegionShare: *inRegionShare,
		Workers:       *workers,
		Timeout:       *timeout,
		OutputFile:    *outputFile,
		LogFile:       *logFile,
		Verbose:       *verbose,
	}

	if err := testalerts.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		return
	}
}
