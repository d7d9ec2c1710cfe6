// Package hydrolink is the polling engine for one Hydrolink account: it logs
// in, fetches the resident meter data on a schedule and keeps a live view per
// meter for the host application.
package hydrolink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/hydrolink/internal/api"
	"github.com/tejusbharadwaj/hydrolink/internal/meter"
	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
	"github.com/tejusbharadwaj/hydrolink/internal/scheduler"
)

// Options configures an Account. Zero values fall back to the defaults of
// the api, meter and scheduler packages.
type Options struct {
	LoginURL        string
	MeterDataURL    string
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration
	ViewCacheSize   int

	// Transport overrides the net/http transport.
	Transport api.Transport
	Logger    *logrus.Logger
	Metrics   *metrics.Collector

	// OnRefresh is called after every cycle with its outcome.
	OnRefresh func(err error)
}

// Account is the shared handle for one set of credentials. Every Sensor of
// the account reads from the same dataset.
type Account struct {
	sessions  *api.SessionManager
	fetcher   *api.MeterFetcher
	store     *meter.Store
	views     *meter.ViewCache
	scheduler *scheduler.Scheduler
	logger    *logrus.Logger
	metrics   *metrics.Collector
	onRefresh func(err error)

	baseCtx context.Context
	cancel  context.CancelFunc

	// cycleMu serializes refresh cycles, scheduled or manual.
	cycleMu sync.Mutex

	mu      sync.RWMutex
	sensors []*meter.Sensor
	byID    map[string]*meter.Sensor
	closed  bool
}

func newAccount(creds models.Credentials, opts Options) (*Account, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	transport := opts.Transport
	if transport == nil {
		transport = api.NewHTTPTransport(opts.HTTPTimeout)
	}
	cacheSize := opts.ViewCacheSize
	if cacheSize <= 0 {
		cacheSize = meter.DefaultViewCacheSize
	}

	store := meter.NewStore()
	views, err := meter.NewViewCache(store, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create view cache: %w", err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	a := &Account{
		sessions:  api.NewSessionManager(transport, opts.LoginURL, creds, logger, opts.Metrics),
		fetcher:   api.NewMeterFetcher(transport, opts.MeterDataURL, logger, opts.Metrics),
		store:     store,
		views:     views,
		logger:    logger,
		metrics:   opts.Metrics,
		onRefresh: opts.OnRefresh,
		baseCtx:   baseCtx,
		cancel:    cancel,
		byID:      make(map[string]*meter.Sensor),
	}
	a.scheduler = scheduler.NewScheduler(baseCtx, a, opts.RefreshInterval, logger)
	return a, nil
}

// Initialize logs in, fetches the meter data once and starts the refresh
// schedule. An account without meters is an error.
func Initialize(ctx context.Context, creds models.Credentials, opts Options) (*Account, error) {
	a, err := newAccount(creds, opts)
	if err != nil {
		return nil, err
	}

	if err := a.Refresh(ctx); err != nil {
		a.cancel()
		return nil, fmt.Errorf("failed to login and refresh the meter data: %w", err)
	}
	if len(a.store.Devices()) == 0 {
		a.cancel()
		a.logger.Error("Did not get any meters from the Hydrolink API")
		return nil, api.ErrNoDevices
	}

	if err := a.scheduler.Start(); err != nil {
		a.cancel()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"meters": len(a.Sensors()),
	}).Info("Added Hydrolink water meters")
	return a, nil
}

func (a *Account) Username() string {
	return a.sessions.Username()
}

// Refresh runs one refresh cycle and updates every live view from the new
// dataset. On failure the previous dataset and views stay in place.
// OnRefresh runs after the cycle has released the account, so the hook may
// call Shutdown.
func (a *Account) Refresh(ctx context.Context) error {
	if a.isClosed() {
		return api.ErrStopped
	}

	err := a.refresh(ctx)
	if errors.Is(err, api.ErrStopped) {
		return err
	}
	if a.onRefresh != nil {
		a.onRefresh(err)
	}
	return err
}

func (a *Account) refresh(ctx context.Context) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	// Shutdown may have completed while this call waited for the lock.
	if a.isClosed() {
		return api.ErrStopped
	}

	result, err := a.runCycle(ctx)
	a.metrics.ObserveCycle(result, time.Now())
	if err == nil {
		a.syncSensors()
	}
	return err
}

// RefreshAll is Refresh under the name the host uses for a manual trigger.
func (a *Account) RefreshAll(ctx context.Context) error {
	return a.Refresh(ctx)
}

// RefreshDevice runs a refresh cycle and returns the view of one meter. A
// meter missing from the new dataset keeps its last view, which is returned
// together with a *api.NotFoundError.
func (a *Account) RefreshDevice(ctx context.Context, deviceID string) (models.DeviceView, error) {
	refreshErr := a.Refresh(ctx)

	sensor, ok := a.sensor(deviceID)
	if !ok {
		if refreshErr != nil {
			return models.DeviceView{}, refreshErr
		}
		return models.DeviceView{}, &api.NotFoundError{DeviceID: deviceID}
	}
	if refreshErr != nil {
		return sensor.View(), refreshErr
	}
	if sensor.Stale() {
		return sensor.View(), &api.NotFoundError{DeviceID: deviceID}
	}
	return sensor.View(), nil
}

// runCycle is one login-if-needed, fetch and conditional retry. The API has
// no distinct expiry signal, so any failed fetch is treated as an expired
// token: log in once and fetch once more.
func (a *Account) runCycle(ctx context.Context) (string, error) {
	log := a.logger.WithFields(logrus.Fields{
		"cycle_id": uuid.NewString(),
	})
	log.Debug("Refreshing Hydrolink meter data")

	token, err := a.sessions.EnsureValidToken(ctx)
	if err != nil {
		return metrics.ResultFailure, err
	}

	dataset, err := a.fetcher.FetchDataset(ctx, token)
	if err == nil {
		a.store.Replace(dataset)
		return metrics.ResultSuccess, nil
	}

	log.WithError(err).Info("Failed to refresh meter data, logging in again in case the token expired")

	session, err := a.sessions.Login(ctx)
	if err != nil {
		return metrics.ResultFailure, err
	}
	dataset, err = a.fetcher.FetchDataset(ctx, session.Token)
	if err != nil {
		return metrics.ResultFailure, err
	}
	a.store.Replace(dataset)
	return metrics.ResultRetried, nil
}

// syncSensors re-derives every live view from the current dataset. Meters
// seen for the first time get a new Sensor; meters that vanished keep their
// last view and are marked stale.
func (a *Account) syncSensors() {
	dataset := a.store.Dataset()
	if dataset == nil {
		return
	}
	a.metrics.ObserveDataset(dataset.Generation, len(dataset.Meters))

	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]bool, len(dataset.Meters))
	for i := range dataset.Meters {
		record := dataset.Meters[i]
		seen[record.SecondaryAddress] = true
		a.metrics.ObserveMeter(record.SecondaryAddress, record.Warm, record.LatestValue)

		if sensor, ok := a.byID[record.SecondaryAddress]; ok {
			sensor.Refresh(&record, dataset.Generation)
			continue
		}
		sensor := meter.NewSensor(a.store, record)
		sensor.Refresh(&record, dataset.Generation)
		a.sensors = append(a.sensors, sensor)
		a.byID[record.SecondaryAddress] = sensor
		if dataset.Generation > 1 {
			a.logger.WithFields(logrus.Fields{"meter": record.SecondaryAddress}).Info("Discovered new Hydrolink meter")
		}
	}

	for _, sensor := range a.sensors {
		if seen[sensor.ID()] {
			continue
		}
		if !sensor.Stale() {
			a.logger.WithFields(logrus.Fields{"meter": sensor.ID()}).Warn("Meter missing from latest data, keeping last reading")
		}
		sensor.Refresh(nil, dataset.Generation)
	}
}

// ListDeviceViews returns the live view of every known meter in the order
// they were first seen.
func (a *Account) ListDeviceViews() []models.DeviceView {
	sensors := a.Sensors()
	views := make([]models.DeviceView, len(sensors))
	for i, sensor := range sensors {
		views[i] = sensor.View()
	}
	return views
}

// Sensors returns the live view objects of the account.
func (a *Account) Sensors() []*meter.Sensor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*meter.Sensor(nil), a.sensors...)
}

// DeviceView projects a meter from the current dataset without consulting
// the live views. A meter absent from the dataset is not found.
func (a *Account) DeviceView(deviceID string) (models.DeviceView, error) {
	return a.views.View(deviceID)
}

// Dataset returns a copy of the dataset from the last successful cycle.
func (a *Account) Dataset() *models.RawDataset {
	return a.store.Dataset()
}

func (a *Account) SchedulerState() scheduler.State {
	return a.scheduler.State()
}

func (a *Account) sensor(deviceID string) (*meter.Sensor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sensor, ok := a.byID[deviceID]
	return sensor, ok
}

func (a *Account) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// Shutdown stops the refresh schedule and waits for a running cycle to end.
// If ctx expires first the running cycle is cancelled. Shutdown may be called
// from the OnRefresh hook of a scheduled cycle.
func (a *Account) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	defer a.cancel()
	// The scheduler's own drain context would include the fire that may be
	// calling Shutdown, so wait on the cycle lock instead.
	a.scheduler.Stop()

	idle := make(chan struct{})
	go func() {
		a.cycleMu.Lock()
		a.cycleMu.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ scheduler.Refresher = (*Account)(nil)
