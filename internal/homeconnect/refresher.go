package homeconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultRefreshSchedule polls the API once a minute
const DefaultRefreshSchedule = "@every 1m"

// ErrRefreshInProgress is returned by Refresh when another pass is running
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Source loads appliance catalogs. Client implements it.
type Source interface {
	ListAppliances(ctx context.Context) ([]Description, error)
	LoadSnapshot(ctx context.Context, desc Description) (*Snapshot, error)
}

// Refresher periodically reloads every appliance catalog and syncs it into the hub
type Refresher struct {
	source   Source
	hub      *HomeConnect
	logger   *zap.Logger
	schedule string
	timeout  time.Duration
	observe  func(err error, appliances int)

	cron    *cron.Cron
	entryID cron.EntryID
	running sync.Mutex
}

// NewRefresher creates a refresher. schedule is a cron spec such as "@every 1m".
func NewRefresher(source Source, hub *HomeConnect, schedule string, logger *zap.Logger) *Refresher {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	return &Refresher{
		source:   source,
		hub:      hub,
		logger:   logger.Named("refresher"),
		schedule: schedule,
		timeout:  2 * time.Minute,
		cron:     cron.New(),
	}
}

// WithObserver registers a callback run after every refresh pass that was not skipped
func (r *Refresher) WithObserver(observe func(err error, appliances int)) *Refresher {
	r.observe = observe
	return r
}

// Start performs one refresh immediately and then schedules the periodic pass
func (r *Refresher) Start(ctx context.Context) error {
	r.hub.SetStatus(StatusLoading)
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("Initial refresh failed", zap.Error(err))
	}

	id, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
			r.logger.Warn("Scheduled refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}
	r.entryID = id
	r.cron.Start()

	r.logger.Info("Refresher started", zap.String("schedule", r.schedule))
	return nil
}

// Stop cancels the schedule and waits for a running pass to finish
func (r *Refresher) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("Refresher stopped")
}

// Refresh runs one pass. A call that overlaps a running pass is skipped and
// returns ErrRefreshInProgress.
func (r *Refresher) Refresh(ctx context.Context) error {
	if !r.running.TryLock() {
		r.logger.Debug("Refresh already in progress, skipping")
		return ErrRefreshInProgress
	}
	defer r.running.Unlock()

	n, err := r.refresh(ctx)
	if r.observe != nil {
		r.observe(err, n)
	}
	return err
}

func (r *Refresher) refresh(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	descs, err := r.source.ListAppliances(ctx)
	if err != nil {
		if IsRateLimited(err) {
			r.hub.SetStatus(StatusBlocked)
		}
		return 0, fmt.Errorf("failed to list appliances: %w", err)
	}

	discovered := make([]Discovered, 0, len(descs))
	for _, desc := range descs {
		snap, err := r.source.LoadSnapshot(ctx, desc)
		if err != nil {
			if IsRateLimited(err) {
				r.hub.SetStatus(StatusBlocked)
				return 0, fmt.Errorf("rate limited while loading %s: %w", desc.HaID, err)
			}
			r.logger.Warn("Failed to load appliance, keeping previous catalog",
				zap.String("ha_id", desc.HaID),
				zap.Error(err))
			if a, ok := r.hub.Appliance(desc.HaID); ok {
				snap = a.Snapshot()
			} else {
				snap = &Snapshot{}
			}
		}
		discovered = append(discovered, Discovered{Description: desc, Snapshot: snap})
	}

	if r.hub.Status() == StatusLoading {
		r.hub.SetStatus(StatusLoaded)
	}
	r.hub.Sync(discovered)
	r.hub.SetStatus(StatusReady)

	r.logger.Debug("Refresh complete", zap.Int("appliances", len(discovered)))
	return len(discovered), nil
}
