package plan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"backend-trailplan/internal/db"
	"backend-trailplan/internal/gpx"
	"backend-trailplan/internal/pace"
	"backend-trailplan/internal/stream"
)

// SavedPlan is a plan document persisted for a user.
type SavedPlan struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Document  Document  `json:"document"`
	CreatedAt time.Time `json:"created_at"`
}

// Service orchestrates calculate runs over the in-memory session store,
// persists plan documents in postgres and mirrors every recomputed itinerary
// into the redis cache and onto the stream hub.
type Service struct {
	db    db.Querier
	redis *redis.Client
	store *Store
	hub   *stream.Hub
}

func NewService(db db.Querier, redisClient *redis.Client, hub *stream.Hub) *Service {
	return &Service{db: db, redis: redisClient, store: NewStore(), hub: hub}
}

// StartSession parses GPX bytes, runs the pipeline and installs the fresh
// session, replacing any previous one under the same id.
func (s *Service) StartSession(ctx context.Context, data []byte, opts Options, model pace.Model, activity string) (*Session, Itinerary, error) {
	f, err := gpx.Parse(data)
	if err != nil {
		return nil, Itinerary{}, err
	}
	sess, err := Calculate(uuid.NewString(), f, opts, model, activity)
	if err != nil {
		return nil, Itinerary{}, err
	}
	s.store.Put(sess)
	return sess, s.Publish(ctx, sess), nil
}

// Session looks up a live session by plan id.
func (s *Service) Session(id string) (*Session, bool) {
	return s.store.Get(id)
}

// Publish recomputes the itinerary, refreshes the cache and broadcasts it to
// stream subscribers of the plan.
func (s *Service) Publish(ctx context.Context, sess *Session) Itinerary {
	it := sess.Itinerary()
	if payload, err := json.Marshal(it); err == nil {
		_ = s.CacheItinerary(ctx, sess.ID, payload)
		if s.hub != nil {
			s.hub.Broadcast(sess.ID, payload)
		}
	}
	return it
}

func (s *Service) SavePlan(ctx context.Context, userID, name string, doc Document) (SavedPlan, error) {
	saved := SavedPlan{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Document: doc,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return SavedPlan{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO plans (id, user_id, name, doc)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, saved.ID, saved.UserID, saved.Name, payload)
	if err := row.Scan(&saved.CreatedAt); err != nil {
		return SavedPlan{}, err
	}
	return saved, nil
}

func (s *Service) GetPlan(ctx context.Context, userID, planID string) (SavedPlan, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, doc, created_at
		FROM plans WHERE id=$1 AND user_id=$2
	`, planID, userID)

	var saved SavedPlan
	var payload []byte
	if err := row.Scan(&saved.ID, &saved.UserID, &saved.Name, &payload, &saved.CreatedAt); err != nil {
		return SavedPlan{}, err
	}
	if err := json.Unmarshal(payload, &saved.Document); err != nil {
		return SavedPlan{}, err
	}
	return saved, nil
}

func (s *Service) ListPlans(ctx context.Context, userID string) ([]SavedPlan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, name, created_at
		FROM plans WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []SavedPlan
	for rows.Next() {
		var p SavedPlan
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (s *Service) DeletePlan(ctx context.Context, userID, planID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM plans WHERE id=$1 AND user_id=$2`, planID, userID)
	return err
}

const itineraryCacheTTL = 24 * time.Hour

// CacheItinerary stores the latest computed itinerary of a live session.
func (s *Service) CacheItinerary(ctx context.Context, sessionID string, payload []byte) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Set(ctx, itineraryCacheKey(sessionID), payload, itineraryCacheTTL).Err()
}

// CachedItinerary returns the cached itinerary payload, or nil when absent.
func (s *Service) CachedItinerary(ctx context.Context, sessionID string) []byte {
	if s.redis == nil {
		return nil
	}
	payload, err := s.redis.Get(ctx, itineraryCacheKey(sessionID)).Bytes()
	if err != nil {
		return nil
	}
	return payload
}

func itineraryCacheKey(sessionID string) string {
	return "plan:" + sessionID + ":itinerary"
}
