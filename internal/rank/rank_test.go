package rank_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/repository"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/tracker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/rank"
	. "github.com/smartystreets/goconvey/convey"
)

var eventTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testBlob(ra, dec, hotMass float64) []byte {
	hot, err := healpix.AngToPix(0, ra, dec)
	So(err, ShouldBeNil)
	prob := make([]float64, 12)
	for i := range prob {
		prob[i] = (1 - hotMass) / 11
	}
	prob[hot] = hotMass
	raw, _ := json.Marshal(map[string]any{"nside": 1, "prob": prob})
	return raw
}

// fixture assembles a ranked query surface with pre-seeded associations.
type fixture struct {
	reg   *localization.Registry
	trk   *tracker.Tracker
	store repository.Store
	svc   *rank.Service
}

func newFixture() *fixture {
	f := &fixture{}
	f.reg = localization.New()
	f.trk = tracker.New(f.reg)
	f.store = repository.NewMemStore(context.Background())
	f.svc = rank.New(f.store, f.reg, f.trk)
	return f
}

func (f *fixture) addEvent(eventID string, blob []byte) {
	n := model.Notice{
		EventID:    eventID,
		Revision:   1,
		Kind:       model.KindInitial,
		Details:    model.Details{Time: eventTime},
		SkymapBlob: blob,
	}
	So(f.trk.Apply(context.Background(), n), ShouldBeNil)
}

func (f *fixture) seed(candidateID, eventID string, scoreReal, mag, snr, prob, dtDays float64, viable bool) {
	ctx := context.Background()
	So(f.store.PutCandidate(ctx, model.Candidate{
		ID:         candidateID,
		TargetID:   "T" + candidateID,
		RA:         45,
		Dec:        45,
		DetectedAt: eventTime.Add(time.Duration(dtDays * 24 * float64(time.Hour))),
		Mag:        mag,
		SNR:        snr,
		ScoreReal:  scoreReal,
	}), ShouldBeNil)
	_, err := f.store.UpsertAssociation(ctx, model.Association{
		CandidateID: candidateID,
		EventID:     eventID,
		Probability: prob,
		DtDays:      dtDays,
		Threshold:   0.95,
		Viable:      viable,
	})
	So(err, ShouldBeNil)
}

func ids(rows []rank.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Candidate.ID)
	}
	return out
}

func TestQueryOrdering(t *testing.T) {
	Convey("Given an event with several associated candidates", t, func() {
		ctx := context.Background()
		f := newFixture()
		f.addEvent("S250101a", testBlob(45, 45, 0.9))

		f.seed("c1", "S250101a", 0.9, 20.0, 8, 0.30, 0.5, true)
		f.seed("c2", "S250101a", 0.7, 18.0, 15, 0.10, 1.0, true)
		f.seed("c3", "S250101a", 0.9, 19.0, 11, 0.20, 1.5, true)
		f.seed("c4", "S250101a", 0.9, 21.0, 5, 0.20, 2.0, true)

		Convey("When ordering by score", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", OrderBy: rank.OrderByScore})
			So(err, ShouldBeNil)

			Convey("Then ties fall back to probability then candidate id", func() {
				// c3 and c4 tie on score and probability; id breaks the tie.
				So(ids(rows), ShouldResemble, []string{"c3", "c4", "c1", "c2"})
			})
		})

		Convey("When ordering by probability", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", OrderBy: rank.OrderByProb})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c2", "c3", "c4", "c1"})
		})

		Convey("When ordering by magnitude", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", OrderBy: rank.OrderByMag})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c2", "c3", "c1", "c4"})
		})

		Convey("When ordering by signal to noise", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", OrderBy: rank.OrderBySNR})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c2", "c3", "c1", "c4"})
		})

		Convey("When ordering by detection time", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", OrderBy: rank.OrderByDetected})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c1", "c2", "c3", "c4"})
		})

		Convey("When the query repeats", func() {
			first, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a"})
			So(err, ShouldBeNil)
			second, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a"})
			So(err, ShouldBeNil)

			Convey("Then the order is deterministic", func() {
				So(ids(first), ShouldResemble, ids(second))
			})
		})
	})
}

func TestQueryFilters(t *testing.T) {
	Convey("Given an event with mixed associations", t, func() {
		ctx := context.Background()
		f := newFixture()
		f.addEvent("S250101a", testBlob(45, 45, 0.9))

		f.seed("c1", "S250101a", 0.9, 20.0, 8, 0.30, 0.5, true)
		f.seed("c2", "S250101a", 0.4, 18.0, 15, 0.80, 1.0, true)
		f.seed("c3", "S250101a", 0.9, 19.0, 11, 0.99, 2.8, false)

		Convey("When filtering by maximum probability", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", ProbMax: 0.5})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c1"})
		})

		Convey("When filtering by follow-up time", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", DtMaxDays: 1.5})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c1", "c2"})
		})

		Convey("When filtering by minimum score", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", MinScore: 0.5})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c1", "c3"})
		})

		Convey("When keeping only viable associations", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", ViableOnly: true})
			So(err, ShouldBeNil)
			So(ids(rows), ShouldResemble, []string{"c1", "c2"})
		})

		Convey("When limiting the result", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", Limit: 2})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
		})

		Convey("When no filter matches", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", ProbMax: 0.01})
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("When the event is unknown", func() {
			_, err := f.svc.Query(ctx, rank.Params{EventID: "unknown"})
			So(errors.Is(err, tracker.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestCoincidenceDedup(t *testing.T) {
	Convey("Given two coincident events sharing a candidate", t, func() {
		ctx := context.Background()
		f := newFixture()
		f.addEvent("S250101a", testBlob(45, 45, 0.9))
		f.addEvent("E250101b", testBlob(45, 45, 0.8))
		So(f.reg.LinkCoincidence(ctx, "S250101a", "E250101b", nil), ShouldBeNil)

		f.seed("c1", "S250101a", 0.9, 20.0, 8, 0.60, 0.5, true)
		f.seed("c1", "E250101b", 0.9, 20.0, 8, 0.40, 0.5, true)
		f.seed("c2", "E250101b", 0.7, 19.0, 9, 0.30, 1.0, true)

		Convey("When querying either event", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", OrderBy: rank.OrderByProb})
			So(err, ShouldBeNil)

			Convey("Then the shared candidate appears once with the tighter probability", func() {
				So(ids(rows), ShouldResemble, []string{"c2", "c1"})
				So(rows[1].Probability, ShouldAlmostEqual, 0.40, 1e-12)
				So(rows[1].EventID, ShouldEqual, "E250101b")
			})
		})
	})

	Convey("Given a candidate retired on one partner but live on the other", t, func() {
		ctx := context.Background()
		f := newFixture()
		f.addEvent("S250101a", testBlob(45, 45, 0.9))
		f.addEvent("E250101b", testBlob(45, 45, 0.8))
		So(f.reg.LinkCoincidence(ctx, "S250101a", "E250101b", nil), ShouldBeNil)

		f.seed("c1", "S250101a", 0.9, 20.0, 8, 0.60, 0.5, true)
		f.seed("c1", "E250101b", 0.9, 20.0, 8, 0.40, 0.5, false)

		Convey("When querying viable associations only", func() {
			rows, err := f.svc.Query(ctx, rank.Params{EventID: "S250101a", ViableOnly: true})
			So(err, ShouldBeNil)

			Convey("Then the live association wins the dedup", func() {
				So(ids(rows), ShouldResemble, []string{"c1"})
				So(rows[0].Probability, ShouldAlmostEqual, 0.60, 1e-12)
				So(rows[0].EventID, ShouldEqual, "S250101a")
				So(rows[0].Viable, ShouldBeTrue)
			})
		})
	})
}

func TestCandidateEvents(t *testing.T) {
	Convey("Given a candidate associated with two events", t, func() {
		ctx := context.Background()
		f := newFixture()
		f.addEvent("S250101a", testBlob(45, 45, 0.9))
		f.addEvent("S250102b", testBlob(45, 45, 0.8))

		f.seed("c1", "S250101a", 0.9, 20.0, 8, 0.60, 0.5, true)
		f.seed("c1", "S250102b", 0.9, 20.0, 8, 0.40, 0.2, false)

		Convey("When listing the candidate's events", func() {
			rows, err := f.svc.CandidateEvents(ctx, "c1")
			So(err, ShouldBeNil)

			Convey("Then one row per event comes back in event order", func() {
				So(rows, ShouldHaveLength, 2)
				So(rows[0].EventID, ShouldEqual, "S250101a")
				So(rows[1].EventID, ShouldEqual, "S250102b")
				So(rows[1].Viable, ShouldBeFalse)
			})
		})

		Convey("When the candidate is unknown", func() {
			_, err := f.svc.CandidateEvents(ctx, "unknown")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}
