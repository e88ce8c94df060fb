package testalerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
)

// verifyAssociations checks that every in-region detection surfaced as a
// viable association on its event, and that no off-region detection did.
func verifyAssociations(ctx context.Context, config *Config, events []syntheticEvent, detections []Detection, stats *Stats) error {
	client := newHTTPClient(config.Timeout)

	// Expected viable candidate ids per event.
	expected := make(map[string]map[string]bool, len(events))
	for _, d := range detections {
		if !d.InRegion {
			continue
		}
		if expected[d.EventID] == nil {
			expected[d.EventID] = make(map[string]bool)
		}
		expected[d.EventID][d.CandidateID] = true
	}

	var missing int
	for _, ev := range events {
		rows, err := fetchViableCandidates(ctx, client, config.BaseURL, ev.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch candidates for %s: %w", ev.ID, err)
		}

		observed := make(map[string]bool, len(rows))
		for _, row := range rows {
			observed[row.CandidateID] = true
		}

		for candID := range expected[ev.ID] {
			if observed[candID] {
				stats.ObservedMatches++
			} else {
				missing++
				if config.Verbose {
					logger.Get().Warn(ctx, "expected association missing",
						logger.String("eventID", ev.ID),
						logger.String("candidateID", candID))
				}
			}
		}
		for candID := range observed {
			if expected[ev.ID] != nil && !expected[ev.ID][candID] {
				logger.Get().Warn(ctx, "unexpected viable association",
					logger.String("eventID", ev.ID),
					logger.String("candidateID", candID))
			}
		}
	}

	var matchRate float64
	if stats.ExpectedMatches > 0 {
		matchRate = float64(stats.ObservedMatches) / float64(stats.ExpectedMatches) * PercentageMultiplier
	}
	logger.Get().Info(ctx, "association verification completed",
		logger.Int("expected", stats.ExpectedMatches),
		logger.Int("observed", stats.ObservedMatches),
		logger.Int("missing", missing),
		logger.Float64("matchRate", matchRate))

	if missing > 0 {
		return fmt.Errorf("%d expected associations never appeared", missing)
	}
	return nil
}

// fetchViableCandidates reads an event's viable candidate list.
func fetchViableCandidates(ctx context.Context, client *HTTPClient, baseURL, eventID string) ([]AssociationRow, error) {
	url := baseURL + "/events/" + eventID + "/candidates?viable_only=true"
	resp, err := client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("candidate query returned status %d", resp.StatusCode)
	}

	var rows []AssociationRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode candidate rows: %w", err)
	}
	return rows, nil
}
