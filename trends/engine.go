// Package trends scores hashtag and link activity by how far it
// departs from the recent baseline, keeping ranked sets of what is
// currently hot.
package trends

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/gomphos/gomphos/redisx"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
)

// Subject types mirror the trend usage history rows.
const (
	SubjectTag  = "tag"
	SubjectLink = "link"
)

// Ranked set names, per subject type.
const (
	SetAll     = "all"
	SetAllowed = "allowed"
)

// Store is the usage-history and subject-metadata backend, satisfied
// by *db.DB.
type Store interface {
	RecordTrendUsage(subjectType string, subjectId int64, accountId uuid.UUID, at time.Time) error
	TrendUsage(subjectType string, subjectId int64, at time.Time) (error, float64)
	TrendUsedIdsSince(subjectType string, since time.Time) (error, []int64)
	TrimTrendUsages(before time.Time) error
	ReadTrendFields(subjectType string, subjectId int64) (error, bool, float64, time.Time)
	UpdateTrendMaxScore(subjectType string, subjectId int64, score float64, at time.Time) error
	TouchTagRequestedReview(tagId int64, at time.Time) error
}

// RankedSet holds the live rankings, satisfied by *redisx.RankedSets.
// List with a limit of zero or below returns every member.
type RankedSet interface {
	Add(ctx context.Context, set, member string, score float64) error
	Remove(ctx context.Context, set string, members ...string) error
	List(ctx context.Context, set string, limit int64) ([]redisx.ScoredMember, error)
}

// Engine computes surprise scores. A subject scores by how much
// today's distinct-account usage exceeds yesterday's, peaks are
// remembered and decay with a half-life once the cooldown has passed.
type Engine struct {
	store Store
	sets  RankedSet

	threshold       float64
	reviewThreshold float64
	cooldown        time.Duration
	halflife        time.Duration
}

func NewEngine(store Store, sets RankedSet, conf *util.AppConfig) *Engine {
	return &Engine{
		store:           store,
		sets:            sets,
		threshold:       conf.Conf.Trends.Threshold,
		reviewThreshold: conf.Conf.Trends.ReviewThreshold,
		cooldown:        time.Duration(conf.Conf.Trends.MaxScoreCooldownHours) * time.Hour,
		halflife:        time.Duration(conf.Conf.Trends.MaxScoreHalflifeHours) * time.Hour,
	}
}

// Register records one use of a subject by one account. Repeat uses by
// the same account on the same day do not count again.
func (e *Engine) Register(subjectType string, subjectId int64, accountId uuid.UUID, at time.Time) error {
	return e.store.RecordTrendUsage(subjectType, subjectId, accountId, at)
}

// Refresh rescores every subject used in the last two days, plus
// everything still sitting in the ranked sets so quiet entries decay
// out, and prunes history older than a week.
func (e *Engine) Refresh(ctx context.Context, at time.Time) error {
	for _, subjectType := range []string{SubjectTag, SubjectLink} {
		err, ids := e.store.TrendUsedIdsSince(subjectType, at.Add(-48*time.Hour))
		if err != nil {
			return fmt.Errorf("failed to list used %s ids: %w", subjectType, err)
		}

		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		ranked, err := e.sets.List(ctx, subjectType+":"+SetAll, 0)
		if err != nil {
			return fmt.Errorf("failed to list ranked %s ids: %w", subjectType, err)
		}
		for _, member := range ranked {
			id, perr := strconv.ParseInt(member.Member, 10, 64)
			if perr != nil || seen[id] {
				continue
			}
			ids = append(ids, id)
		}

		for _, id := range ids {
			if err := e.rescore(ctx, subjectType, id, at); err != nil {
				log.Printf("Trends: failed to rescore %s %d: %v", subjectType, id, err)
			}
		}
	}

	if err := e.store.TrimTrendUsages(at.Add(-7 * 24 * time.Hour)); err != nil {
		log.Printf("Trends: failed to trim usage history: %v", err)
	}
	return nil
}

func (e *Engine) rescore(ctx context.Context, subjectType string, subjectId int64, at time.Time) error {
	err, observed := e.store.TrendUsage(subjectType, subjectId, at)
	if err != nil {
		return err
	}
	err, expected := e.store.TrendUsage(subjectType, subjectId, at.Add(-24*time.Hour))
	if err != nil {
		return err
	}

	err, trendable, maxScore, maxScoreAt := e.store.ReadTrendFields(subjectType, subjectId)
	if err != nil {
		return err
	}

	score := e.rawScore(observed, expected)

	// A peak outside the cooldown window no longer holds the score up
	if maxScoreAt.IsZero() || at.Sub(maxScoreAt) > e.cooldown {
		maxScore = 0
	}

	if score > maxScore {
		maxScore = score
		maxScoreAt = at
		if err := e.store.UpdateTrendMaxScore(subjectType, subjectId, maxScore, maxScoreAt); err != nil {
			return err
		}

		if subjectType == SubjectTag && !trendable && score >= e.reviewThreshold {
			if err := e.store.TouchTagRequestedReview(subjectId, at); err != nil {
				log.Printf("Trends: failed to request review for tag %d: %v", subjectId, err)
			}
		}
	}

	decayed := decayedScore(maxScore, maxScoreAt, at, e.halflife)
	member := strconv.FormatInt(subjectId, 10)

	if decayed < e.threshold {
		if err := e.sets.Remove(ctx, subjectType+":"+SetAll, member); err != nil {
			return err
		}
		return e.sets.Remove(ctx, subjectType+":"+SetAllowed, member)
	}

	if err := e.sets.Add(ctx, subjectType+":"+SetAll, member, decayed); err != nil {
		return err
	}
	if trendable {
		return e.sets.Add(ctx, subjectType+":"+SetAllowed, member, decayed)
	}
	return e.sets.Remove(ctx, subjectType+":"+SetAllowed, member)
}

// rawScore measures how surprising today's usage is against
// yesterday's baseline. Usage below the baseline scores zero.
func (e *Engine) rawScore(observed, expected float64) float64 {
	if expected == 0 {
		expected = 1
	}
	if observed <= expected || observed < e.threshold {
		return 0
	}
	return (observed - expected) * (observed - expected) / expected
}

// decayedScore halves the remembered peak for every halflife that has
// passed since it was set.
func decayedScore(maxScore float64, maxScoreAt, at time.Time, halflife time.Duration) float64 {
	if maxScore == 0 || maxScoreAt.IsZero() {
		return 0
	}
	elapsed := at.Sub(maxScoreAt)
	if elapsed <= 0 {
		return maxScore
	}
	return maxScore * math.Pow(0.5, elapsed.Hours()/halflife.Hours())
}

// Trending lists the current top subjects of a set, best first.
func (e *Engine) Trending(ctx context.Context, subjectType, set string, limit int64) ([]redisx.ScoredMember, error) {
	return e.sets.List(ctx, subjectType+":"+set, limit)
}

// StartRefreshLoop rescoring on an interval until ctx is cancelled.
func (e *Engine) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	log.Println("Trends: refresh loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Trends: refresh loop stopped")
			return
		case now := <-ticker.C:
			if err := e.Refresh(ctx, now); err != nil {
				log.Printf("Trends: refresh failed: %v", err)
			}
		}
	}
}
