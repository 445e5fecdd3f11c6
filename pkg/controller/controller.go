// Package controller keeps the entities of an Octopus Energy account up to
// date by polling the supplier on a fixed interval.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/octobridge/pkg/consumption"
	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/issues"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/octopus"
	"github.com/raterudder/octobridge/pkg/sensors"
	"github.com/raterudder/octobridge/pkg/types"
)

const apiUnavailableIssueKey = "octopus_api_unavailable"

// Supplier is the subset of the Octopus Energy client the controller needs.
type Supplier interface {
	consumption.Client
	sensors.RateGetter
	GetAccount(ctx context.Context) (types.Account, error)
	GetStandingCharges(ctx context.Context, fuel types.FuelType, tariffCode string, from, to time.Time) ([]types.StandingCharge, error)
	GetSavingSessions(ctx context.Context) (types.SavingSessionsResult, error)
	AccountID() string
}

// Registry makes entities live and publishes their state.
type Registry interface {
	Add(ctx context.Context, e entity.Entity) error
	Write(ctx context.Context, e entity.Entity) error
}

// Recorder stores consumption and cost series, e.g. in a time series
// database.
type Recorder interface {
	WriteConsumption(meter types.Meter, data []types.Consumption)
	WriteCost(meter types.Meter, tariffCode string, cost consumption.Cost)
}

// meterEntities are the entities of a single meter.
type meterEntities struct {
	meter               types.Meter
	currentTariff       *sensors.CurrentTariff
	consumption         *sensors.PreviousAccumulativeConsumption
	cost                *sensors.PreviousAccumulativeCost
	costOverride        *sensors.PreviousAccumulativeCostOverride
	costOverrideTariff  *sensors.CostOverrideTariff
	lastTariffSlot      time.Time
	lastCostFingerprint string
}

// Controller polls the supplier and refreshes the entities of an account.
type Controller struct {
	accountID string
	supplier  Supplier
	store     consumption.Store
	registry  Registry
	issues    sensors.IssueRegistry
	recorder  Recorder
	overrides *sensors.Overrides

	interval               time.Duration
	accountInterval        time.Duration
	savingSessionsInterval time.Duration
	calorificValue         float64

	now func() time.Time

	// refreshMu serializes refreshes from Run and Refresh
	refreshMu      sync.Mutex
	account        types.Account
	accountLoaded  time.Time
	meters         map[string]*meterEntities
	savingSessions *sensors.SavingSessions
	// apiIssueRaised starts true so an issue left over from a previous run
	// is cleared
	apiIssueRaised bool

	sessionsMu       sync.RWMutex
	sessions         types.SavingSessionsResult
	sessionsLoaded   bool
	sessionsLastPoll time.Time
}

// Configured sets up flags for the polling loop and returns the controller.
// The account is taken from the supplier once flags are parsed.
func Configured(supplier Supplier, store consumption.Store, registry Registry, issueRegistry sensors.IssueRegistry) *Controller {
	c := New("", supplier, store, registry, issueRegistry)
	interval := lflag.Duration("refresh-interval", time.Minute, "How often entities are refreshed")
	accountInterval := lflag.Duration("account-refresh-interval", time.Hour, "How often the account's meters and agreements are reloaded")
	savingSessionsInterval := lflag.Duration("saving-sessions-refresh-interval", 30*time.Minute, "How often saving sessions are reloaded")
	calorificValue := lflag.String("gas-calorific-value", "40.0", "Calorific value used to convert gas consumption from m³ to kWh")

	lflag.Do(func() {
		c.accountID = supplier.AccountID()
		c.interval = *interval
		c.accountInterval = *accountInterval
		c.savingSessionsInterval = *savingSessionsInterval
		cv, err := strconv.ParseFloat(*calorificValue, 64)
		if err != nil || cv <= 0 {
			panic(fmt.Sprintf("invalid gas-calorific-value: %q", *calorificValue))
		}
		c.calorificValue = cv
	})

	return c
}

// New returns a controller with the default intervals.
func New(accountID string, supplier Supplier, store consumption.Store, registry Registry, issueRegistry sensors.IssueRegistry) *Controller {
	return &Controller{
		accountID:              accountID,
		supplier:               supplier,
		store:                  store,
		registry:               registry,
		issues:                 issueRegistry,
		overrides:              sensors.NewOverrides(),
		interval:               time.Minute,
		accountInterval:        time.Hour,
		savingSessionsInterval: 30 * time.Minute,
		calorificValue:         40,
		now:                    time.Now,
		meters:                 map[string]*meterEntities{},
		apiIssueRaised:         true,
	}
}

// SetRecorder sets where consumption and cost series are recorded.
func (c *Controller) SetRecorder(r Recorder) {
	c.recorder = r
}

// SavingSessions implements sensors.SavingSessionsSource.
func (c *Controller) SavingSessions() (types.SavingSessionsResult, bool) {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions, c.sessionsLoaded
}

// PreviousDay returns the previous London day before now. Consumption is
// reported by the supplier with a day of delay.
func PreviousDay(now time.Time) (time.Time, time.Time) {
	local := now.In(octopus.London())
	to := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, octopus.London())
	from := to.AddDate(0, 0, -1)
	return from, to
}

// Run refreshes immediately and then on every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	log.Ctx(ctx).InfoContext(ctx, "controller started", slog.Duration("interval", c.interval))
	if err := c.refresh(ctx, false); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to refresh", slog.Any("error", err))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.refresh(ctx, false); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to refresh", slog.Any("error", err))
			}
		}
	}
}

// Refresh reloads the account and saving sessions and refreshes every
// entity.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.refresh(ctx, true)
}

func (c *Controller) refresh(ctx context.Context, force bool) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	now := c.now()
	ctx = log.WithAttrs(ctx, slog.String("accountID", c.accountID))

	var apiErrs []error
	if force || c.accountLoaded.IsZero() || now.Sub(c.accountLoaded) >= c.accountInterval {
		if err := c.loadAccount(ctx, now); err != nil {
			if c.accountLoaded.IsZero() {
				c.raiseAPIUnavailable(ctx, err)
				return err
			}
			log.Ctx(ctx).WarnContext(ctx, "failed to reload account, using previous", slog.Any("error", err))
			apiErrs = append(apiErrs, err)
		}
	}

	if err := c.refreshSavingSessions(ctx, now, force); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to refresh saving sessions", slog.Any("error", err))
		apiErrs = append(apiErrs, err)
	}

	from, to := PreviousDay(now)
	for _, m := range c.account.Meters {
		me, ok := c.meters[m.ID()]
		if !ok {
			continue
		}
		mctx := log.WithAttrs(ctx, slog.String("meter", m.ID()))
		if err := c.refreshMeter(mctx, now, from, to, me); err != nil {
			log.Ctx(mctx).ErrorContext(mctx, "failed to refresh meter", slog.Any("error", err))
			apiErrs = append(apiErrs, err)
		}
	}

	if len(apiErrs) > 0 {
		err := errors.Join(apiErrs...)
		c.raiseAPIUnavailable(ctx, err)
		return err
	}
	if c.apiIssueRaised {
		if err := c.issues.Delete(ctx, issues.Domain, apiUnavailableIssueKey); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to clear api issue", slog.Any("error", err))
		} else {
			c.apiIssueRaised = false
		}
	}
	return nil
}

func (c *Controller) raiseAPIUnavailable(ctx context.Context, cause error) {
	err := c.issues.Create(ctx, types.Issue{
		Domain:         issues.Domain,
		Key:            apiUnavailableIssueKey,
		Severity:       types.IssueSeverityWarning,
		TranslationKey: apiUnavailableIssueKey,
		Placeholders: map[string]string{
			"account_id": c.accountID,
			"error":      cause.Error(),
		},
	})
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to raise api issue", slog.Any("error", err))
		return
	}
	c.apiIssueRaised = true
}

// loadAccount reloads the meters and creates the entities of new meters.
func (c *Controller) loadAccount(ctx context.Context, now time.Time) error {
	account, err := c.supplier.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "loaded account", slog.Int("meters", len(account.Meters)))

	if c.savingSessions == nil {
		s := sensors.NewSavingSessions(c.accountID, c)
		if err := c.registry.Add(ctx, s); err != nil {
			return fmt.Errorf("failed to add saving sessions: %w", err)
		}
		c.savingSessions = s
	}

	for _, m := range account.Meters {
		me, ok := c.meters[m.ID()]
		if !ok {
			me, err = c.addMeter(ctx, now, m)
			if err != nil {
				return err
			}
			c.meters[m.ID()] = me
			continue
		}
		me.meter = m
		if me.costOverrideTariff != nil {
			if tariffCode := m.ActiveTariff(now); tariffCode != "" {
				if err := me.costOverrideTariff.SetTariffCode(ctx, tariffCode); err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to update override tariff", slog.String("meter", m.ID()), slog.Any("error", err))
				}
			}
		}
	}

	c.account = account
	c.accountLoaded = now
	return nil
}

func (c *Controller) addMeter(ctx context.Context, now time.Time, m types.Meter) (*meterEntities, error) {
	me := &meterEntities{
		meter:         m,
		currentTariff: sensors.NewCurrentTariff(m, c.supplier),
		consumption:   sensors.NewPreviousAccumulativeConsumption(m),
		cost:          sensors.NewPreviousAccumulativeCost(m),
		costOverride:  sensors.NewPreviousAccumulativeCostOverride(m),
	}
	list := []entity.Entity{me.currentTariff, me.consumption, me.cost, me.costOverride}
	if tariffCode := m.ActiveTariff(now); tariffCode != "" {
		me.costOverrideTariff = sensors.NewCostOverrideTariff(c.accountID, m, tariffCode, c.supplier, c.overrides, c.issues, c.registry)
		list = append(list, me.costOverrideTariff)
	}
	for _, e := range list {
		if err := c.registry.Add(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", e.EntityID(), err)
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "added meter", slog.String("meter", m.ID()), slog.Int("entities", len(list)))
	return me, nil
}

func (c *Controller) refreshSavingSessions(ctx context.Context, now time.Time, force bool) error {
	if c.savingSessions == nil {
		return nil
	}

	var err error
	c.sessionsMu.RLock()
	stale := force || c.sessionsLastPoll.IsZero() || now.Sub(c.sessionsLastPoll) >= c.savingSessionsInterval
	c.sessionsMu.RUnlock()
	if stale {
		var res types.SavingSessionsResult
		res, err = c.supplier.GetSavingSessions(ctx)
		c.sessionsMu.Lock()
		c.sessionsLastPoll = now
		if err == nil {
			c.sessions = res
			c.sessionsLoaded = true
		}
		c.sessionsMu.Unlock()
		if err != nil {
			err = fmt.Errorf("failed to get saving sessions: %w", err)
		}
	}

	// the state still moves with the clock when the poll failed
	c.savingSessions.IsOn(now)
	if werr := c.registry.Write(ctx, c.savingSessions); werr != nil {
		return errors.Join(err, fmt.Errorf("failed to write saving sessions: %w", werr))
	}
	return err
}

func (c *Controller) refreshMeter(ctx context.Context, now, from, to time.Time, me *meterEntities) error {
	m := me.meter

	if slot := now.Truncate(types.HalfHour); !slot.Equal(me.lastTariffSlot) {
		if err := me.currentTariff.Update(ctx, now, m); err != nil {
			return err
		}
		if err := c.registry.Write(ctx, me.currentTariff); err != nil {
			return err
		}
		me.lastTariffSlot = slot
	}

	data, err := consumption.GetConsumptionData(ctx, c.store, c.supplier, now, from, to, m.PointID, m.SerialNumber, m.IsElectricity())
	if err != nil {
		return err
	}

	tariffCode := m.ActiveTariff(from)
	override, _ := c.overrides.Get(sensors.TariffOverrideKey(m.Fuel, m.SerialNumber, m.PointID))
	fingerprint := costFingerprint(data, tariffCode, override)
	if fingerprint == me.lastCostFingerprint {
		return nil
	}

	me.consumption.Update(data, c.calorificValue, now)
	if err := c.registry.Write(ctx, me.consumption); err != nil {
		return err
	}
	if c.recorder != nil {
		c.recorder.WriteConsumption(m, data)
	}

	if len(data) == 0 || tariffCode == "" {
		me.lastCostFingerprint = fingerprint
		return nil
	}
	if !coversWindow(data, from, to) {
		log.Ctx(ctx).InfoContext(ctx, "consumption does not cover the previous day, keeping cost",
			slog.Time("lastInterval", data[len(data)-1].IntervalEnd),
		)
		me.lastCostFingerprint = fingerprint
		return nil
	}

	// rates are per kWh
	priced := data
	if !m.IsElectricity() {
		priced = make([]types.Consumption, len(data))
		for i, d := range data {
			d.Consumption = consumption.GasToKWh(d.Consumption, c.calorificValue)
			priced[i] = d
		}
	}

	cost, err := c.calculateCost(ctx, m.Fuel, tariffCode, priced, from, to)
	if err != nil {
		return err
	}
	me.cost.Update(tariffCode, cost, now)
	if err := c.registry.Write(ctx, me.cost); err != nil {
		return err
	}
	if c.recorder != nil {
		c.recorder.WriteCost(m, tariffCode, cost)
	}

	if override != "" && override != tariffCode {
		overrideCost, err := c.calculateCost(ctx, m.Fuel, override, priced, from, to)
		if err != nil {
			return fmt.Errorf("failed to calculate override cost: %w", err)
		}
		me.costOverride.Update(override, overrideCost, now)
	} else {
		me.costOverride.Clear(now)
	}
	if err := c.registry.Write(ctx, me.costOverride); err != nil {
		return err
	}

	me.lastCostFingerprint = fingerprint
	log.Ctx(ctx).InfoContext(ctx, "refreshed previous day cost",
		slog.String("tariffCode", tariffCode),
		slog.Float64("total", cost.Total),
		slog.Int("intervals", len(data)),
	)
	return nil
}

func (c *Controller) calculateCost(ctx context.Context, fuel types.FuelType, tariffCode string, data []types.Consumption, from, to time.Time) (consumption.Cost, error) {
	rates, err := c.supplier.GetRates(ctx, fuel, tariffCode, from, to)
	if err != nil {
		return consumption.Cost{}, fmt.Errorf("failed to get rates for %s: %w", tariffCode, err)
	}
	standingCharges, err := c.supplier.GetStandingCharges(ctx, fuel, tariffCode, from, to)
	if err != nil {
		return consumption.Cost{}, fmt.Errorf("failed to get standing charges for %s: %w", tariffCode, err)
	}
	cost, err := consumption.CalculateCost(data, rates, standingCharges, from, to)
	if err != nil {
		return consumption.Cost{}, fmt.Errorf("failed to calculate cost for %s: %w", tariffCode, err)
	}
	return cost, nil
}

// coversWindow reports whether the series ends inside (from, to]. A stored
// series from an older day is still reported as consumption but never priced
// against the current window.
func coversWindow(data []types.Consumption, from, to time.Time) bool {
	end := data[len(data)-1].IntervalEnd
	return end.After(from) && !end.After(to)
}

// costFingerprint changes whenever the inputs of the cost sensors change.
func costFingerprint(data []types.Consumption, tariffCode, override string) string {
	if len(data) == 0 {
		return fmt.Sprintf("empty|%s|%s", tariffCode, override)
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s",
		len(data),
		data[0].IntervalStart.UTC().Format(time.RFC3339),
		data[len(data)-1].IntervalEnd.UTC().Format(time.RFC3339),
		tariffCode,
		override,
	)
}
