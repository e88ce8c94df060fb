package testalerts

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
)

// Constants for synthetic sky and detection generation.
const (
	hotspotMass   = 0.9
	orderZeroPix  = 12
	raRange       = 360.0
	decRange      = 160.0 // stay away from the poles
	decOffset     = -80.0
	dtMinDays     = 0.1
	dtSpreadDays  = 2.4
	outsideDtDays = 10.0 // beyond any sensible follow-up window
	magBase       = 17.0
	magSpread     = 5.0
	snrBase       = 5.0
	snrSpread     = 20.0
)

// syntheticEvent is one generated gravitational-wave event with the sky
// position its localization concentrates on.
type syntheticEvent struct {
	ID     string
	RA     float64
	Dec    float64
	Time   time.Time
	Notice Notice
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// skymapBlob serializes an order-0 map concentrating hotspotMass on the
// pixel containing (ra, dec).
func skymapBlob(ra, dec float64) ([]byte, error) {
	hot, err := healpix.AngToPix(0, ra, dec)
	if err != nil {
		return nil, fmt.Errorf("failed to place hotspot: %w", err)
	}
	prob := make([]float64, orderZeroPix)
	for i := range prob {
		prob[i] = (1 - hotspotMass) / float64(orderZeroPix-1)
	}
	prob[hot] = hotspotMass
	return json.Marshal(map[string]any{"nside": 1, "prob": prob})
}

// generateEvents creates synthetic events with randomly placed localizations.
func generateEvents(ctx context.Context, config *Config, stats *Stats) ([]syntheticEvent, error) {
	logger.Get().Info(ctx, "generating synthetic events", logger.Int("numEvents", config.NumEvents))

	base := time.Now().UTC().Add(-24 * time.Hour)
	events := make([]syntheticEvent, 0, config.NumEvents)
	for i := 0; i < config.NumEvents; i++ {
		ra := getRandomFloat() * raRange
		dec := decOffset + getRandomFloat()*decRange
		blob, err := skymapBlob(ra, dec)
		if err != nil {
			return nil, fmt.Errorf("failed to build skymap for event %d: %w", i, err)
		}

		ev := syntheticEvent{
			ID:   fmt.Sprintf("MS%s%03d", base.Format("060102"), i),
			RA:   ra,
			Dec:  dec,
			Time: base.Add(time.Duration(i) * time.Second),
		}
		ev.Notice = Notice{
			EventID:  ev.ID,
			Revision: 1,
			Subtype:  "INITIAL",
			Details: NoticeDetails{
				Time: ev.Time.Format(time.RFC3339),
				FAR:  1e-9 * (1 + getRandomFloat()),
			},
			Skymap: blob,
		}
		events = append(events, ev)
	}

	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events successfully", logger.Int("count", len(events)))
	return events, nil
}

// generateDetections creates detections for the generated events. A share
// of them lands inside each event's credible region within the follow-up
// window; the rest is placed on the opposite sky or far outside the window
// so it must never associate.
func generateDetections(ctx context.Context, config *Config, events []syntheticEvent, stats *Stats) []Detection {
	detections := make([]Detection, 0, len(events)*config.PerEvent)
	for _, ev := range events {
		for j := 0; j < config.PerEvent; j++ {
			inRegion := getRandomFloat() < config.InRegionShare
			d := Detection{
				CandidateID: uuid.New().String(),
				TargetID:    fmt.Sprintf("T%s-%03d", ev.ID, j),
				Mag:         magBase + getRandomFloat()*magSpread,
				SNR:         snrBase + getRandomFloat()*snrSpread,
				ScoreReal:   getRandomFloat(),
				EventID:     ev.ID,
				InRegion:    inRegion,
			}
			if inRegion {
				d.RA = ev.RA
				d.Dec = ev.Dec
				dt := dtMinDays + getRandomFloat()*dtSpreadDays
				d.DetectedAt = ev.Time.Add(time.Duration(dt * 24 * float64(time.Hour))).Format(time.RFC3339)
				stats.ExpectedMatches++
			} else {
				// Opposite hemisphere, and stale on top of it.
				d.RA = ev.RA + raRange/2
				if d.RA >= raRange {
					d.RA -= raRange
				}
				d.Dec = -ev.Dec
				d.DetectedAt = ev.Time.Add(time.Duration(outsideDtDays * 24 * float64(time.Hour))).Format(time.RFC3339)
			}
			detections = append(detections, d)
		}
	}

	stats.DetectionsGenerated = len(detections)
	logger.Get().Info(ctx, "generated detections",
		logger.Int("count", len(detections)),
		logger.Int("expectedMatches", stats.ExpectedMatches))
	return detections
}
