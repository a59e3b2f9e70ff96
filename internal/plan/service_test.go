package plan

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"

	"backend-trailplan/internal/gpx"
	"backend-trailplan/internal/track"
)

func TestSavedPlanCRUD(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService(mock, nil, nil)
	doc := Document{Version: DocumentVersion, WaypointIndices: []int{0, 10}}

	createdAt := time.Now()
	mock.ExpectQuery(`INSERT INTO plans`).
		WithArgs(pgxmock.AnyArg(), "user-1", "Gran Paradiso", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	saved, err := svc.SavePlan(context.Background(), "user-1", "Gran Paradiso", doc)
	if err != nil {
		t.Fatalf("save plan: %v", err)
	}

	payload, _ := json.Marshal(doc)
	mock.ExpectQuery(`SELECT id, user_id, name, doc, created_at`).
		WithArgs(saved.ID, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "doc", "created_at"}).
			AddRow(saved.ID, "user-1", "Gran Paradiso", payload, createdAt))

	loaded, err := svc.GetPlan(context.Background(), "user-1", saved.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if loaded.Document.Version != DocumentVersion || len(loaded.Document.WaypointIndices) != 2 {
		t.Fatalf("document not restored: %+v", loaded.Document)
	}

	mock.ExpectQuery(`SELECT id, user_id, name, created_at`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "created_at"}).
			AddRow(saved.ID, "user-1", "Gran Paradiso", createdAt))

	plans, err := svc.ListPlans(context.Background(), "user-1")
	if err != nil || len(plans) != 1 {
		t.Fatalf("list plans: %v", err)
	}

	mock.ExpectExec(`DELETE FROM plans`).
		WithArgs(saved.ID, "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	if err := svc.DeletePlan(context.Background(), "user-1", saved.ID); err != nil {
		t.Fatalf("delete plan: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItineraryCache(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	svc := NewService(nil, client, nil)
	ctx := context.Background()

	if got := svc.CachedItinerary(ctx, "plan-1"); got != nil {
		t.Fatalf("cache must start empty")
	}
	if err := svc.CacheItinerary(ctx, "plan-1", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("cache set: %v", err)
	}
	if got := svc.CachedItinerary(ctx, "plan-1"); string(got) != `{"x":1}` {
		t.Fatalf("cache get: %q", got)
	}

	// no redis configured: cache quietly disabled
	none := NewService(nil, nil, nil)
	if err := none.CacheItinerary(ctx, "plan-1", []byte("x")); err != nil {
		t.Fatalf("nil redis must be a no-op, got %v", err)
	}
	if got := none.CachedItinerary(ctx, "plan-1"); got != nil {
		t.Fatalf("nil redis must return nothing")
	}
}

func TestStartSessionReplacesState(t *testing.T) {
	svc := NewService(nil, nil, nil)
	f := &gpx.File{Segments: [][]track.Point{flatSegment(45.0, 1.0, 500)}}
	data := gpxBytes(t, f)

	sess, it, err := svc.StartSession(context.Background(), data, DefaultOptions(), testModel(), "hiking")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if it.PointCount < 2 {
		t.Fatalf("empty itinerary")
	}
	got, ok := svc.Session(sess.ID)
	if !ok || got != sess {
		t.Fatalf("session not installed")
	}

	if _, _, err := svc.StartSession(context.Background(), []byte("<gpx"), DefaultOptions(), testModel(), "hiking"); err == nil {
		t.Fatalf("malformed gpx must fail without installing a session")
	}
}

// gpxBytes renders a minimal GPX document for the given file's first segment.
func gpxBytes(t *testing.T, f *gpx.File) []byte {
	t.Helper()
	body := `<?xml version="1.0"?><gpx version="1.1" creator="t" xmlns="http://www.topografix.com/GPX/1/1"><trk><trkseg>`
	for _, p := range f.Segments[0] {
		body += `<trkpt lat="` + formatFloat(p.Lat) + `" lon="` + formatFloat(p.Lon) + `">`
		if p.Elevation != nil {
			body += `<ele>` + formatFloat(*p.Elevation) + `</ele>`
		}
		body += `</trkpt>`
	}
	body += `</trkseg></trk></gpx>`
	return []byte(body)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
