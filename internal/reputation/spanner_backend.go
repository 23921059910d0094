package reputation

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/ocx/botdetect/internal/core"
)

// SpannerBackend persists PatternReputation records in a Cloud Spanner
// table, for deployments that already standardize on Spanner
// (internal/config.ReputationConfig.Spanner) and want the detection
// engine's pattern table colocated with the rest of their data.
//
// Expected schema:
//
//	CREATE TABLE pattern_reputation (
//	  pattern_id STRING(MAX) NOT NULL,
//	  bot_score FLOAT64 NOT NULL,
//	  support FLOAT64 NOT NULL,
//	  state INT64 NOT NULL,
//	  last_seen TIMESTAMP NOT NULL,
//	) PRIMARY KEY (pattern_id);
type SpannerBackend struct {
	client *spanner.Client
	table  string
}

func NewSpannerBackend(client *spanner.Client) *SpannerBackend {
	return &SpannerBackend{client: client, table: "pattern_reputation"}
}

func (s *SpannerBackend) Load(ctx context.Context, patternID string) (core.PatternReputation, bool, error) {
	row, err := s.client.Single().ReadRow(ctx, s.table, spanner.Key{patternID},
		[]string{"pattern_id", "bot_score", "support", "state", "last_seen"})
	if spanner.ErrCode(err) == 5 { // NotFound
		return core.PatternReputation{}, false, nil
	}
	if err != nil {
		return core.PatternReputation{}, false, fmt.Errorf("spanner read: %w", err)
	}

	var rep core.PatternReputation
	var state int64
	var lastSeen time.Time
	if err := row.Columns(&rep.PatternID, &rep.BotScore, &rep.Support, &state, &lastSeen); err != nil {
		return core.PatternReputation{}, false, fmt.Errorf("spanner columns: %w", err)
	}
	rep.State = core.ReputationState(state)
	rep.LastSeen = lastSeen
	return rep, true, nil
}

func (s *SpannerBackend) Save(ctx context.Context, rep core.PatternReputation) error {
	mutation := spanner.InsertOrUpdate(s.table,
		[]string{"pattern_id", "bot_score", "support", "state", "last_seen"},
		[]interface{}{rep.PatternID, rep.BotScore, rep.Support, int64(rep.State), rep.LastSeen})
	_, err := s.client.Apply(ctx, []*spanner.Mutation{mutation})
	if err != nil {
		return fmt.Errorf("spanner apply: %w", err)
	}
	return nil
}

func (s *SpannerBackend) Delete(ctx context.Context, patternID string) error {
	mutation := spanner.Delete(s.table, spanner.Key{patternID})
	_, err := s.client.Apply(ctx, []*spanner.Mutation{mutation})
	if err != nil {
		return fmt.Errorf("spanner delete: %w", err)
	}
	return nil
}

func (s *SpannerBackend) Scan(ctx context.Context, fn func(core.PatternReputation) bool) error {
	stmt := spanner.Statement{SQL: fmt.Sprintf("SELECT pattern_id, bot_score, support, state, last_seen FROM %s", s.table)}
	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	for {
		row, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("spanner scan: %w", err)
		}

		var rep core.PatternReputation
		var state int64
		var lastSeen time.Time
		if err := row.Columns(&rep.PatternID, &rep.BotScore, &rep.Support, &state, &lastSeen); err != nil {
			return fmt.Errorf("spanner scan columns: %w", err)
		}
		rep.State = core.ReputationState(state)
		rep.LastSeen = lastSeen
		if !fn(rep) {
			return nil
		}
	}
}
