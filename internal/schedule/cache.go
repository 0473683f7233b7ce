// Package schedule implements the Campaign Schedule Cache (§4.3): a
// process-local, TTL-refreshed view of which campaigns are currently inside
// their calling window, avoiding a timezone-aware schedule query on every
// queue processor pass against a serverless-billed Postgres instance.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/database"
)

// Cache holds the active-campaign schedule snapshot and refreshes it on TTL
// expiry or explicit invalidation.
type Cache struct {
	repo *database.Repository
	ttl  time.Duration

	mu           sync.RWMutex
	campaigns    map[int64]*database.Campaign
	lastRefresh  time.Time
	nextWakeTime time.Time
	hasNextWake  bool
}

// New constructs a Cache bound to repo, refreshing at most once per ttl.
func New(repo *database.Repository, ttl time.Duration) *Cache {
	return &Cache{repo: repo, ttl: ttl, campaigns: map[int64]*database.Campaign{}}
}

// Invalidate forces the next IsWithinWindow/NextWake/refresh call to reload
// from the database, used when a campaign or QueueItem mutates, after the
// processor runs, and on direct-call enqueue (§4.3 explicit invalidation
// hooks).
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.lastRefresh = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) refreshIfStale(now time.Time) error {
	c.mu.RLock()
	stale := now.Sub(c.lastRefresh) >= c.ttl
	c.mu.RUnlock()
	if !stale {
		return nil
	}

	campaigns, err := c.repo.ListActiveCampaignsWithQueuedItems()
	if err != nil {
		return fmt.Errorf("refreshing campaign schedule cache: %w", err)
	}
	hasDirect, err := c.repo.HasQueuedDirectItems()
	if err != nil {
		return fmt.Errorf("checking queued direct items: %w", err)
	}

	byID := make(map[int64]*database.Campaign, len(campaigns))
	for _, camp := range campaigns {
		byID[camp.ID] = camp
	}
	wake, ok := nextWakeAcross(campaigns, hasDirect, now)

	c.mu.Lock()
	c.campaigns = byID
	c.lastRefresh = now
	c.nextWakeTime = wake
	c.hasNextWake = ok
	c.mu.Unlock()

	log.Debug().Int("count", len(campaigns)).Bool("has_direct", hasDirect).Msg("campaign schedule cache refreshed")
	return nil
}

// CampaignCount reports how many campaigns the current snapshot holds, for
// operator visibility alongside NextWake (§6.2).
func (c *Cache) CampaignCount(now time.Time) (int, error) {
	if err := c.refreshIfStale(now); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.campaigns), nil
}

// NextWake reports the earliest instant at which some eligible work exists,
// refreshing from the database if the cache is stale (§4.3). ok is false
// when nothing is currently queued — "sleep indefinitely, re-check on
// external event."
func (c *Cache) NextWake(now time.Time) (wake time.Time, ok bool, err error) {
	if err := c.refreshIfStale(now); err != nil {
		// Failure semantics (§4.3): cache errors degrade to "always refresh",
		// never block dispatch on a broken cache.
		return now, true, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextWakeTime, c.hasNextWake, nil
}

// ShouldProcess reports whether nextWake(now) ≤ now. A true result
// automatically invalidates the cache, since the processor pass it triggers
// is about to change what's queued (§4.3).
func (c *Cache) ShouldProcess(now time.Time) bool {
	wake, ok, err := c.NextWake(now)
	if err != nil {
		return true
	}
	if !ok {
		return false
	}
	due := !wake.After(now)
	if due {
		c.Invalidate()
	}
	return due
}

// nextWakeAcross aggregates the earliest next-wake instant across every
// campaign in the snapshot, per the §4.3 refresh algorithm. Direct
// QueueItems are always eligible immediately once any exist.
func nextWakeAcross(campaigns []*database.Campaign, hasDirect bool, now time.Time) (time.Time, bool) {
	if hasDirect {
		return now, true
	}

	var best time.Time
	found := false
	for _, camp := range campaigns {
		wake, err := campaignNextWake(camp, now)
		if err != nil {
			log.Warn().Err(err).Int64("campaign_id", camp.ID).Msg("skipping campaign in next-wake computation")
			continue
		}
		if !found || wake.Before(best) {
			best = wake
			found = true
		}
	}
	return best, found
}

// campaignNextWake implements §4.3 step 2: before the window, next wake is
// today at firstCallTime; inside the window, now; after the window,
// tomorrow at firstCallTime — all evaluated in the campaign's timezone.
func campaignNextWake(camp *database.Campaign, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(camp.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %q for campaign %d: %w", camp.Timezone, camp.ID, err)
	}
	local := now.In(loc)
	clock := local.Format("15:04")

	switch {
	case clock < camp.FirstCallTime:
		return atClockTime(local, camp.FirstCallTime)
	case clock <= camp.LastCallTime:
		return now, nil
	default:
		t, err := atClockTime(local, camp.FirstCallTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.AddDate(0, 0, 1), nil
	}
}

// atClockTime returns local's calendar day at the given "HH:MM" clock time,
// in local's location.
func atClockTime(local time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing clock time %q: %w", hhmm, err)
	}
	return time.Date(local.Year(), local.Month(), local.Day(), parsed.Hour(), parsed.Minute(), 0, 0, local.Location()), nil
}

// IsWithinWindow reports whether campaignID's calling window covers now in
// its configured timezone. Campaigns not present in the cache (paused,
// completed, or with no queued items) are reported as out of window.
func (c *Cache) IsWithinWindow(campaignID int64, now time.Time) (bool, error) {
	if err := c.refreshIfStale(now); err != nil {
		return false, err
	}

	c.mu.RLock()
	camp, ok := c.campaigns[campaignID]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}

	return withinWindow(camp, now)
}

// withinWindow evaluates the non-wrapping HH:MM window against now,
// converted into the campaign's timezone (§4.2, Open Question 5: windows
// that wrap past midnight are rejected at creation time, never evaluated
// here).
func withinWindow(camp *database.Campaign, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(camp.Timezone)
	if err != nil {
		return false, fmt.Errorf("loading timezone %q for campaign %d: %w", camp.Timezone, camp.ID, err)
	}
	local := now.In(loc)
	clock := local.Format("15:04")
	return clock >= camp.FirstCallTime && clock <= camp.LastCallTime, nil
}
