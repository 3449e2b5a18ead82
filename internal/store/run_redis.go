package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/minutebook/internal/page"
	"github.com/local/minutebook/internal/sections"
)

const DefaultTTL = 7 * 24 * time.Hour

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// Status is the run status hash.
type Status struct {
	State      string     `json:"state"`
	Pass       int        `json:"pass"`
	FinalPages int        `json:"final_pages"`
	TotalPages int        `json:"total_pages"`
	Input      string     `json:"input,omitempty"`
	Message    string     `json:"message,omitempty"`
	Start      *time.Time `json:"start_time,omitempty"`
	End        *time.Time `json:"end_time,omitempty"`
}

// Run states.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// PageState is the checkpointed part of a page record. Text is not stored.
type PageState struct {
	Index       int     `json:"index"`
	Label       string  `json:"label,omitempty"`
	Confidence  float64 `json:"confidence"`
	IsFinal     bool    `json:"final"`
	OCRQuality  float64 `json:"ocr_quality"`
	NeedsVision bool    `json:"needs_vision,omitempty"`
}

// RunStore persists the state of one run under run:<id>:*.
type RunStore struct {
	client *redis.Client
	runID  string
	ttl    time.Duration
}

func NewRunStore(client *redis.Client, runID string, ttl time.Duration) *RunStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RunStore{client: client, runID: runID, ttl: ttl}
}

func (s *RunStore) RunID() string { return s.runID }

func (s *RunStore) statusKey() string   { return fmt.Sprintf("run:%s:status", s.runID) }
func (s *RunStore) pagesKey() string    { return fmt.Sprintf("run:%s:pages", s.runID) }
func (s *RunStore) sectionsKey() string { return fmt.Sprintf("run:%s:sections", s.runID) }

// SavePass writes every page state and the pass progress in one pipeline.
func (s *RunStore) SavePass(ctx context.Context, pass int, records []page.Record) error {
	fields, final, err := pageFields(records)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if len(fields) > 0 {
		pipe.HSet(ctx, s.pagesKey(), fields)
	}
	pipe.HSet(ctx, s.statusKey(), map[string]interface{}{
		"pass":        pass,
		"final_pages": final,
		"total_pages": len(records),
	})
	pipe.Expire(ctx, s.pagesKey(), s.ttl)
	pipe.Expire(ctx, s.statusKey(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("checkpoint pass %d: %w", pass, err)
	}
	return nil
}

// Pages loads the last checkpointed page states in index order.
func (s *RunStore) Pages(ctx context.Context) ([]PageState, error) {
	res, err := s.client.HGetAll(ctx, s.pagesKey()).Result()
	if err != nil {
		return nil, err
	}
	return parsePages(res)
}

func (s *RunStore) SetStatus(ctx context.Context, st Status) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.statusKey(), statusFields(st))
	pipe.Expire(ctx, s.statusKey(), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RunStore) Status(ctx context.Context) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.statusKey()).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	return parseStatus(res), true, nil
}

func (s *RunStore) SaveSections(ctx context.Context, secs []sections.Section) error {
	b, err := json.Marshal(secs)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.sectionsKey(), b, s.ttl).Err()
}

func (s *RunStore) Sections(ctx context.Context) ([]sections.Section, error) {
	b, err := s.client.Get(ctx, s.sectionsKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []sections.Section
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func pageFields(records []page.Record) (map[string]interface{}, int, error) {
	fields := make(map[string]interface{}, len(records))
	final := 0
	for _, r := range records {
		if r.IsFinal {
			final++
		}
		b, err := json.Marshal(PageState{
			Index:       r.Index,
			Label:       r.Label,
			Confidence:  r.Confidence,
			IsFinal:     r.IsFinal,
			OCRQuality:  r.OCRQuality,
			NeedsVision: r.NeedsVision,
		})
		if err != nil {
			return nil, 0, err
		}
		fields[strconv.Itoa(r.Index)] = string(b)
	}
	return fields, final, nil
}

func parsePages(res map[string]string) ([]PageState, error) {
	out := make([]PageState, len(res))
	for k, v := range res {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= len(res) {
			return nil, fmt.Errorf("unexpected page field %q", k)
		}
		if err := json.Unmarshal([]byte(v), &out[idx]); err != nil {
			return nil, fmt.Errorf("page %d: %w", idx, err)
		}
	}
	return out, nil
}

func statusFields(st Status) map[string]interface{} {
	m := map[string]interface{}{
		"state":       st.State,
		"pass":        st.Pass,
		"final_pages": st.FinalPages,
		"total_pages": st.TotalPages,
		"message":     st.Message,
	}
	if st.Input != "" {
		m["input"] = st.Input
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	return m
}

func parseStatus(res map[string]string) Status {
	st := Status{
		State:   res["state"],
		Input:   res["input"],
		Message: res["message"],
	}
	// ignore parse errors; default 0
	st.Pass, _ = strconv.Atoi(res["pass"])
	st.FinalPages, _ = strconv.Atoi(res["final_pages"])
	st.TotalPages, _ = strconv.Atoi(res["total_pages"])
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	return st
}
