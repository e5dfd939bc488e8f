package trajectoryredis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatbench/pkg/models"
)

// Config configures Redis access for trajectory persistence.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Summary is the compact per-episode hash kept next to the full record.
type Summary struct {
	EpisodeID string    `json:"episode_id"`
	Scenario  string    `json:"scenario,omitempty"`
	TaskIndex int       `json:"task_index"`
	Steps     int       `json:"steps"`
	Reward    float64   `json:"reward"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Store keeps episode records in Redis. Full records live in the
// "<prefix>:episode:<id>" hash; "<prefix>:episodes" lists ids in write order.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "threatbench"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis trajectory store: %w", err)
	}

	return &Store{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// WriteEpisodes stores a batch of records in one pipeline.
func (s *Store) WriteEpisodes(records []*models.EpisodeRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx := context.Background()
	pipe := s.client.Pipeline()

	queued := 0
	for _, rec := range records {
		if rec == nil || strings.TrimSpace(rec.EpisodeID) == "" {
			continue
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal episode %s: %w", rec.EpisodeID, err)
		}
		pipe.HSet(ctx, s.episodeKey(rec.EpisodeID),
			"episode_id", rec.EpisodeID,
			"scenario", rec.Scenario,
			"task_index", strconv.Itoa(rec.TaskIndex),
			"steps", strconv.Itoa(len(rec.Steps)),
			"reward", strconv.FormatFloat(rec.Reward, 'f', -1, 64),
			"ended_at", strconv.FormatInt(rec.EndedAt.Unix(), 10),
			"record", string(body),
		)
		pipe.RPush(ctx, s.listKey(), rec.EpisodeID)
		queued++
	}
	if queued == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write trajectory redis keys: %w", err)
	}
	return nil
}

// Fetch returns the full record for one episode.
func (s *Store) Fetch(ctx context.Context, episodeID string) (*models.EpisodeRecord, error) {
	body, err := s.client.HGet(ctx, s.episodeKey(episodeID), "record").Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("episode %s not found", episodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("read episode %s: %w", episodeID, err)
	}
	var rec models.EpisodeRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode episode %s: %w", episodeID, err)
	}
	return &rec, nil
}

// Recent returns summaries of the last limit episodes, oldest first.
func (s *Store) Recent(ctx context.Context, limit int64) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.LRange(ctx, s.listKey(), -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read episode list: %w", err)
	}

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		hash, err := s.client.HGetAll(ctx, s.episodeKey(id)).Result()
		if err != nil || len(hash) == 0 {
			continue
		}
		taskIndex, _ := strconv.Atoi(hash["task_index"])
		steps, _ := strconv.Atoi(hash["steps"])
		reward, _ := strconv.ParseFloat(hash["reward"], 64)
		endedUnix, _ := strconv.ParseInt(hash["ended_at"], 10, 64)

		sum := Summary{
			EpisodeID: id,
			Scenario:  hash["scenario"],
			TaskIndex: taskIndex,
			Steps:     steps,
			Reward:    reward,
		}
		if endedUnix > 0 {
			sum.EndedAt = time.Unix(endedUnix, 0).UTC()
		}
		out = append(out, sum)
	}
	return out, nil
}

// Close closes Redis resources.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) episodeKey(id string) string {
	return s.prefix + ":episode:" + id
}

func (s *Store) listKey() string {
	return s.prefix + ":episodes"
}
