// Package payments — service.go is the reconciliation engine: purchase
// initiation with duplicate suppression, the confirm, webhook and sweep
// triggers, and the single crediting decision they all end in.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/features/games"
	"serotonyl.ru/token-shop/internal/features/release"
	"serotonyl.ru/token-shop/internal/gateway"
	"serotonyl.ru/token-shop/internal/metrics"
	"serotonyl.ru/token-shop/internal/notify"
)

// Sweep names used in logs and metrics.
const (
	SweepReconcile = "reconcile"
	SweepRelease   = "release"
)

// Store persists payment records. ApplyUpdate, ScheduleRelease and Credit
// must decide on the latest persisted state while holding the record.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*Record, error)
	FindRecentOpen(ctx context.Context, key PurchaseKey, since time.Time) (*Record, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
	ListOpen(ctx context.Context, providers []string, limit int) ([]*Record, error)
	ListDueReleases(ctx context.Context, now time.Time, limit int) ([]*Record, error)
	ApplyUpdate(ctx context.Context, id string, fn func(rec *Record) (bool, error)) (*Record, error)
	ScheduleRelease(ctx context.Context, id string, at time.Time) (bool, error)
	Credit(ctx context.Context, id string, now time.Time) (*Record, bool, error)
}

// Catalog validates what is being bought.
type Catalog interface {
	Resolve(ctx context.Context, gameID int64, packageIndex int, location string) (*games.Selection, error)
}

// Notifier receives post-transition events. Dispatch must not block.
type Notifier interface {
	Dispatch(e notify.Event)
}

// EventLog remembers processed webhook event ids.
type EventLog interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	Mark(ctx context.Context, provider, eventID string) error
}

// Config tunes the engine.
type Config struct {
	Currency        string
	DuplicateWindow time.Duration // reuse an open intent created this recently
	OpenTTL         time.Duration // expire open intents older than this
	BatchSize       int
	Concurrency     int
}

func (c *Config) applyDefaults() {
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 30 * time.Minute
	}
	if c.OpenTTL <= 0 {
		c.OpenTTL = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// Deps are the engine's collaborators. Notifier, Events and Metrics are
// optional.
type Deps struct {
	Store     Store
	Catalog   Catalog
	Evaluator *release.Evaluator
	Gateways  []gateway.Gateway
	Notifier  Notifier
	Events    EventLog
	Metrics   *metrics.Metrics
}

// Service is the reconciliation engine.
type Service struct {
	store     Store
	catalog   Catalog
	evaluator *release.Evaluator
	gateways  map[gateway.Provider]gateway.Gateway
	providers []string
	notifier  Notifier
	events    EventLog
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
	inflight  singleflight.Group
}

// NewService creates the engine.
func NewService(deps Deps, cfg Config) *Service {
	cfg.applyDefaults()
	gws := make(map[gateway.Provider]gateway.Gateway, len(deps.Gateways))
	providers := make([]string, 0, len(deps.Gateways))
	for _, gw := range deps.Gateways {
		if _, ok := gws[gw.Provider()]; !ok {
			providers = append(providers, string(gw.Provider()))
		}
		gws[gw.Provider()] = gw
	}
	return &Service{
		store:     deps.Store,
		catalog:   deps.Catalog,
		evaluator: deps.Evaluator,
		gateways:  gws,
		providers: providers,
		notifier:  deps.Notifier,
		events:    deps.Events,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// PurchaseRequest asks for a new purchase. UserID and Provider come from
// the request context, the rest from the body.
type PurchaseRequest struct {
	UserID       string           `json:"-"`
	Provider     gateway.Provider `json:"-"`
	GameID       int64            `json:"game_id" binding:"required"`
	PackageIndex int              `json:"token_package_index"`
	Location     string           `json:"location" binding:"required"`
}

// PurchaseResult is what the client needs to complete the payment.
type PurchaseResult struct {
	Payment      *View  `json:"payment"`
	ClientHandle string `json:"client_handle"`
	Reused       bool   `json:"reused"`
}

func (s *Service) gateway(p gateway.Provider) (gateway.Gateway, error) {
	gw, ok := s.gateways[p]
	if !ok {
		return nil, common.ErrProviderNotConfigured
	}
	return gw, nil
}

func (s *Service) logEntry(rec *Record, trigger Trigger) *log.Entry {
	return log.WithFields(log.Fields{
		"payment_id":   rec.ID,
		"external_ref": rec.ExternalRef,
		"provider":     rec.Provider,
		"trigger":      trigger,
	})
}

// callerError turns a gateway error into what a synchronous caller sees.
func (s *Service) callerError(gw gateway.Gateway, op string, err error) error {
	s.metrics.GatewayError(string(gw.Provider()), op, gateway.KindName(err))
	switch {
	case errors.Is(err, gateway.ErrProviderUnavailable):
		return fmt.Errorf("%w: %v", common.ErrRetryable, err)
	case errors.Is(err, gateway.ErrNotFound):
		return fmt.Errorf("%w: %v", common.ErrPaymentNotFound, err)
	default:
		return fmt.Errorf("%s payment: %w", op, err)
	}
}

func (s *Service) notify(e notify.Event) {
	if s.notifier != nil {
		s.notifier.Dispatch(e)
	}
}

func purchaseKeyString(k PurchaseKey) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", k.UserID, k.Provider, k.GameID, k.PackageIndex, common.NormalizeLocationName(k.Location))
}

// InitiatePurchase creates a provider intent for the request, or returns the
// still valid open intent of an identical request made within the duplicate
// window. Concurrent identical requests share one result.
func (s *Service) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	gw, err := s.gateway(req.Provider)
	if err != nil {
		return nil, err
	}
	sel, err := s.catalog.Resolve(ctx, req.GameID, req.PackageIndex, req.Location)
	if err != nil {
		return nil, err
	}

	key := PurchaseKey{
		UserID:       req.UserID,
		Provider:     req.Provider,
		GameID:       sel.Game.ID,
		PackageIndex: req.PackageIndex,
		Location:     sel.Location,
	}
	v, err, _ := s.inflight.Do(purchaseKeyString(key), func() (any, error) {
		return s.initiate(ctx, gw, key, sel)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PurchaseResult), nil
}

func (s *Service) initiate(ctx context.Context, gw gateway.Gateway, key PurchaseKey, sel *games.Selection) (*PurchaseResult, error) {
	existing, err := s.store.FindRecentOpen(ctx, key, s.now().Add(-s.cfg.DuplicateWindow))
	switch {
	case err == nil:
		rec, err := s.reuse(ctx, gw, existing)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return &PurchaseResult{Payment: rec.View(), ClientHandle: rec.ClientHandle, Reused: true}, nil
		}
	case !errors.Is(err, common.ErrPaymentNotFound):
		return nil, fmt.Errorf("find recent payment: %w", err)
	}
	return s.create(ctx, gw, key, sel)
}

// reuse checks an earlier open intent with the provider. It returns nil when
// a new intent has to be created instead.
func (s *Service) reuse(ctx context.Context, gw gateway.Gateway, rec *Record) (*Record, error) {
	rep, err := gw.FetchStatus(ctx, rec.ExternalRef)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderUnavailable) {
			return nil, s.callerError(gw, "fetch", err)
		}
		s.metrics.GatewayError(string(gw.Provider()), "fetch", gateway.KindName(err))
		s.logEntry(rec, TriggerInitiate).WithError(err).Info("payments: earlier intent is no longer valid")
		expired, err := s.expire(ctx, rec, TriggerInitiate, "superseded by a new purchase attempt")
		if err != nil {
			if errors.Is(err, gateway.ErrProviderUnavailable) {
				return nil, fmt.Errorf("%w: %v", common.ErrRetryable, err)
			}
			return nil, err
		}
		if expired.Status.IsOpen() {
			return expired, nil
		}
		return nil, nil
	}

	updated, err := s.reconcile(ctx, rec, rep, TriggerInitiate)
	if err != nil {
		return nil, err
	}
	if !updated.Status.IsOpen() {
		return nil, nil
	}
	s.logEntry(updated, TriggerInitiate).Info("payments: duplicate purchase, reusing open intent")
	return updated, nil
}

func (s *Service) create(ctx context.Context, gw gateway.Gateway, key PurchaseKey, sel *games.Selection) (*PurchaseResult, error) {
	id := uuid.NewString()
	intent, err := gw.CreateIntent(ctx, gateway.IntentRequest{
		AmountCents:   sel.Package.PriceCents,
		Currency:      s.cfg.Currency,
		CorrelationID: id,
		Description:   fmt.Sprintf("%s for %s at %s", common.FormatTokens(sel.Package.Tokens), sel.Game.Name, sel.Location),
		Metadata: map[string]string{
			"record_id": id,
			"user_id":   key.UserID,
			"game_id":   strconv.FormatInt(sel.Game.ID, 10),
			"location":  sel.Location,
		},
	})
	if err != nil {
		return nil, s.callerError(gw, "create", err)
	}

	status := intent.Status
	if !status.IsOpen() {
		status = gateway.StatusCreated
	}
	now := s.now()
	rec := &Record{
		ID:             id,
		ExternalRef:    intent.ExternalRef,
		Provider:       gw.Provider(),
		CorrelationID:  id,
		ClientHandle:   intent.ClientHandle,
		UserID:         key.UserID,
		GameID:         sel.Game.ID,
		Location:       sel.Location,
		PackageIndex:   key.PackageIndex,
		TokenQuantity:  sel.Package.Tokens,
		UnitPriceCents: sel.Package.PriceCents,
		Currency:       s.cfg.Currency,
		CreatedAt:      now,
		ProviderStatus: intent.ProviderStatus,
		Status:         status,
		Metadata:       map[string]string{},
		UpdatedAt:      now,
	}
	entry := s.logEntry(rec, TriggerInitiate)
	if err := s.store.Create(ctx, rec); err != nil {
		entry.WithError(err).Error("payments: intent created but record not stored")
		return nil, fmt.Errorf("store payment record: %w", err)
	}

	entry.WithFields(log.Fields{
		"user_id":  rec.UserID,
		"game_id":  rec.GameID,
		"location": rec.Location,
		"tokens":   rec.TokenQuantity,
		"amount":   common.FormatCents(rec.UnitPriceCents, rec.Currency),
	}).Info("payments: intent created")
	s.metrics.Transition(string(rec.Provider), string(TriggerInitiate), "new", string(rec.Status))
	return &PurchaseResult{Payment: rec.View(), ClientHandle: intent.ClientHandle}, nil
}

// Confirm asks the provider to confirm or capture the caller's payment and
// reconciles the answer.
func (s *Service) Confirm(ctx context.Context, userID string, provider gateway.Provider, externalRef string) (*View, error) {
	gw, err := s.gateway(provider)
	if err != nil {
		return nil, err
	}
	rec, err := s.ownedRecord(ctx, userID, externalRef)
	if err != nil {
		return nil, err
	}
	if rec.Provider != provider {
		return nil, common.ErrPaymentNotFound
	}
	if !rec.Status.IsOpen() {
		return s.settle(ctx, rec, TriggerConfirm).View(), nil
	}

	rep, err := gw.ConfirmOrCapture(ctx, rec.ExternalRef)
	if errors.Is(err, gateway.ErrAlreadyCaptured) {
		rep, err = gw.FetchStatus(ctx, rec.ExternalRef)
	}
	if err != nil {
		rep = s.terminalReport(rec, err)
		if rep == nil {
			return nil, s.callerError(gw, "confirm", err)
		}
		s.metrics.GatewayError(string(provider), "confirm", gateway.KindName(err))
	}

	updated, err := s.reconcile(ctx, rec, rep, TriggerConfirm)
	if err != nil {
		return nil, err
	}
	return updated.View(), nil
}

// terminalReport converts a provider refusal into the report it implies. A
// decline leaves the intent payable with another instrument, so the record
// keeps its status and only records the decline.
func (s *Service) terminalReport(rec *Record, err error) *gateway.StatusReport {
	switch {
	case errors.Is(err, gateway.ErrDenied):
		failure := gateway.FailureOf(err)
		if failure == nil {
			failure = gateway.NewFailure("", "", "", rec.ProviderStatus, s.now())
		}
		return &gateway.StatusReport{
			ExternalRef:    rec.ExternalRef,
			ProviderStatus: rec.ProviderStatus,
			Status:         rec.Status,
			Failure:        failure,
		}
	case errors.Is(err, gateway.ErrExpired):
		return &gateway.StatusReport{
			ExternalRef:    rec.ExternalRef,
			ProviderStatus: rec.ProviderStatus,
			Status:         gateway.StatusExpired,
			Failure:        gateway.NewFailure("payment expired at the provider", "expired", "", "", s.now()),
		}
	}
	return nil
}

func (s *Service) ownedRecord(ctx context.Context, userID, externalRef string) (*Record, error) {
	rec, err := s.store.GetByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, common.ErrPaymentNotFound
	}
	return rec, nil
}

// HandleWebhook verifies and applies a provider event. Once the event is
// authentic it is acknowledged even if applying it fails: the status sweep
// picks the record up again.
func (s *Service) HandleWebhook(ctx context.Context, provider gateway.Provider, header http.Header, body []byte) error {
	gw, err := s.gateway(provider)
	if err != nil {
		return err
	}
	evt, err := gw.ParseWebhook(ctx, header, body)
	if err != nil {
		s.metrics.Webhook(string(provider), "rejected")
		if errors.Is(err, gateway.ErrProviderUnavailable) {
			return fmt.Errorf("%w: %v", common.ErrRetryable, err)
		}
		return err
	}

	entry := log.WithFields(log.Fields{
		"provider":   provider,
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"trigger":    TriggerWebhook,
	})

	if s.seen(ctx, provider, evt.ID, entry) {
		s.metrics.Webhook(string(provider), "duplicate")
		entry.Debug("payments: webhook event already processed")
		return nil
	}
	if evt.Report == nil {
		s.metrics.Webhook(string(provider), "ignored")
		entry.Debug("payments: webhook event carries no payment status")
		s.markSeen(ctx, provider, evt.ID, entry)
		return nil
	}

	entry = entry.WithField("external_ref", evt.Report.ExternalRef)
	rec, err := s.store.GetByExternalRef(ctx, evt.Report.ExternalRef)
	if err == nil && rec.Provider != provider {
		err = common.ErrPaymentNotFound
	}
	if err != nil {
		if errors.Is(err, common.ErrPaymentNotFound) {
			s.metrics.Webhook(string(provider), "unknown")
			entry.Warn("payments: webhook for unknown payment")
			return nil
		}
		s.metrics.Webhook(string(provider), "failed")
		entry.WithError(err).Error("payments: webhook lookup failed")
		return nil
	}

	if _, err := s.reconcile(ctx, rec, evt.Report, TriggerWebhook); err != nil {
		s.metrics.Webhook(string(provider), "failed")
		entry.WithError(err).Error("payments: webhook not applied, the sweep will retry")
		return nil
	}
	s.metrics.Webhook(string(provider), "processed")
	s.markSeen(ctx, provider, evt.ID, entry)
	return nil
}

func (s *Service) seen(ctx context.Context, provider gateway.Provider, eventID string, entry *log.Entry) bool {
	if s.events == nil || eventID == "" {
		return false
	}
	seen, err := s.events.Seen(ctx, string(provider), eventID)
	if err != nil {
		entry.WithError(err).Warn("payments: webhook de-duplication unavailable")
		return false
	}
	return seen
}

func (s *Service) markSeen(ctx context.Context, provider gateway.Provider, eventID string, entry *log.Entry) {
	if s.events == nil || eventID == "" {
		return
	}
	if err := s.events.Mark(ctx, string(provider), eventID); err != nil {
		entry.WithError(err).Warn("payments: failed to remember webhook event")
	}
}

// reconcile applies a status report to the record and runs the crediting
// decision on the result.
func (s *Service) reconcile(ctx context.Context, rec *Record, rep *gateway.StatusReport, trigger Trigger) (*Record, error) {
	now := s.now()
	var tr Transition
	updated, err := s.store.ApplyUpdate(ctx, rec.ID, func(r *Record) (bool, error) {
		tr = r.Apply(rep, now)
		return tr.Changed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply %s update to %s: %w", trigger, rec.ID, err)
	}

	entry := s.logEntry(updated, trigger).WithFields(log.Fields{
		"from":            tr.From,
		"to":              rep.Status,
		"provider_status": rep.ProviderStatus,
	})
	switch {
	case tr.Ignored && rep.Status == gateway.StatusSucceeded:
		entry.Error("payments: provider reports payment succeeded for a closed record, needs manual review")
	case tr.Ignored:
		entry.Warn("payments: out-of-order status ignored")
	case tr.Moved:
		if updated.Failure != nil && updated.Status == gateway.StatusFailed {
			entry = entry.WithFields(log.Fields{
				"failure_reason": updated.Failure.Reason,
				"failure_code":   updated.Failure.Code,
				"decline_code":   updated.Failure.DeclineCode,
			})
		}
		entry.Info("payments: status changed")
		s.metrics.Transition(string(updated.Provider), string(trigger), string(tr.From), string(tr.To))
	}

	return s.settle(ctx, updated, trigger), nil
}

// expire closes an open record that will never be paid. Where the provider
// keeps intents payable, the intent is canceled first so a late payment
// cannot land on a closed record; an intent that was paid in the meantime is
// reconciled instead of expired.
func (s *Service) expire(ctx context.Context, rec *Record, trigger Trigger, reason string) (*Record, error) {
	providerStatus := rec.ProviderStatus
	if c, ok := s.gateways[rec.Provider].(gateway.Canceler); ok {
		rep, err := c.Cancel(ctx, rec.ExternalRef)
		switch {
		case err == nil && rep.Status.IsOpen():
			return s.reconcile(ctx, rec, rep, trigger)
		case err == nil:
			providerStatus = rep.ProviderStatus
		case errors.Is(err, gateway.ErrNotFound):
			// nothing left to cancel
		case errors.Is(err, gateway.ErrAlreadyCaptured):
			s.metrics.GatewayError(string(rec.Provider), "cancel", gateway.KindName(err))
			fetched, ferr := s.gateways[rec.Provider].FetchStatus(ctx, rec.ExternalRef)
			if ferr != nil {
				return nil, fmt.Errorf("fetch %s after refused cancel: %w", rec.ExternalRef, ferr)
			}
			return s.reconcile(ctx, rec, fetched, trigger)
		default:
			s.metrics.GatewayError(string(rec.Provider), "cancel", gateway.KindName(err))
			return nil, fmt.Errorf("cancel %s: %w", rec.ExternalRef, err)
		}
	}
	return s.reconcile(ctx, rec, &gateway.StatusReport{
		ExternalRef:    rec.ExternalRef,
		ProviderStatus: providerStatus,
		Status:         gateway.StatusExpired,
		Failure:        gateway.NewFailure(reason, "expired", "", "", s.now()),
	}, trigger)
}

// settle is the crediting decision. It credits a paid record now, or
// schedules the credit when the location is inside its release window.
// Failures are logged and left to the next sweep; the payment itself has
// already succeeded.
func (s *Service) settle(ctx context.Context, rec *Record, trigger Trigger) *Record {
	if !rec.NeedsCredit() {
		return rec
	}
	now := s.now()
	if rec.TokensScheduledFor != nil {
		if now.Before(*rec.TokensScheduledFor) {
			return rec
		}
		return s.credit(ctx, rec, trigger)
	}

	d := s.evaluator.Evaluate(rec.Location, now)
	if !d.ShouldDelay {
		return s.credit(ctx, rec, trigger)
	}

	entry := s.logEntry(rec, trigger)
	ok, err := s.store.ScheduleRelease(ctx, rec.ID, *d.ReleaseAt)
	if err != nil {
		entry.WithError(err).Error("payments: failed to schedule token release")
		return rec
	}
	if !ok {
		latest, err := s.store.GetByID(ctx, rec.ID)
		if err != nil {
			return rec
		}
		return latest
	}

	scheduled := rec.Clone()
	releaseAt := *d.ReleaseAt
	scheduled.TokensScheduledFor = &releaseAt
	entry.WithFields(log.Fields{
		"tokens":     rec.TokenQuantity,
		"category":   d.Category.String(),
		"release_at": common.FormatDateTime(releaseAt, s.evaluator.Location()),
	}).Info("payments: tokens scheduled")
	s.metrics.Scheduled(d.Category.String())
	s.notify(notify.TokensScheduled(scheduled.Purchase(), releaseAt, now))
	return scheduled
}

func (s *Service) credit(ctx context.Context, rec *Record, trigger Trigger) *Record {
	now := s.now()
	entry := s.logEntry(rec, trigger)

	updated, credited, err := s.store.Credit(ctx, rec.ID, now)
	if err != nil {
		entry.WithError(err).Error("payments: token credit failed, the next sweep retries")
		return rec
	}
	if !credited {
		return updated
	}

	entry.WithFields(log.Fields{
		"user_id":  updated.UserID,
		"game_id":  updated.GameID,
		"location": updated.Location,
		"tokens":   updated.TokenQuantity,
	}).Info("payments: tokens credited")
	s.metrics.Credited(string(updated.Provider), string(trigger), updated.TokenQuantity)
	s.notify(notify.TokensCredited(updated.Purchase(), now))
	return updated
}

// ReconcileOpen is the status sweep: every open record of a configured
// provider is re-checked with it, paid records still waiting for credit are
// settled, and abandoned intents are expired. One record's failure never
// stops the rest.
func (s *Service) ReconcileOpen(ctx context.Context) error {
	start := time.Now()
	defer s.metrics.ObserveSweep(SweepReconcile, start)

	records, err := s.store.ListOpen(ctx, s.providers, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list open payments: %w", err)
	}
	s.forEach(ctx, SweepReconcile, records, s.sweepOne)
	return nil
}

// ReleaseDue credits every paid record whose scheduled release time has
// arrived.
func (s *Service) ReleaseDue(ctx context.Context) error {
	start := time.Now()
	defer s.metrics.ObserveSweep(SweepRelease, start)

	records, err := s.store.ListDueReleases(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list due releases: %w", err)
	}
	s.forEach(ctx, SweepRelease, records, func(ctx context.Context, rec *Record) string {
		if s.credit(ctx, rec, TriggerRelease).TokensAdded {
			return "credited"
		}
		return "error"
	})
	return nil
}

// forEach runs fn over records with bounded concurrency, recording each
// outcome. A panic in one item is logged and counted as an error.
func (s *Service) forEach(ctx context.Context, sweep string, records []*Record, fn func(context.Context, *Record) string) {
	if len(records) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			outcome := "error"
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"payment_id": rec.ID,
						"sweep":      sweep,
						"stack":      string(debug.Stack()),
					}).Errorf("payments: sweep item panicked: %v", r)
				}
				s.metrics.SweepItem(sweep, outcome)
			}()
			if ctx.Err() != nil {
				outcome = "canceled"
				return nil
			}
			outcome = fn(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(log.Fields{"sweep": sweep, "records": len(records)}).Debug("payments: sweep finished")
}

func (s *Service) sweepOne(ctx context.Context, rec *Record) string {
	entry := s.logEntry(rec, TriggerSweep)

	if rec.Status == gateway.StatusSucceeded {
		settled := s.settle(ctx, rec, TriggerSweep)
		if settled.NeedsCredit() && settled.TokensScheduledFor == nil {
			return "error"
		}
		return "settled"
	}

	gw, ok := s.gateways[rec.Provider]
	if !ok {
		entry.Warn("payments: provider not configured, record skipped")
		return "skipped"
	}

	abandoned := s.now().Sub(rec.CreatedAt) > s.cfg.OpenTTL
	rep, err := gw.FetchStatus(ctx, rec.ExternalRef)
	if err != nil {
		s.metrics.GatewayError(string(rec.Provider), "fetch", gateway.KindName(err))
		if errors.Is(err, gateway.ErrNotFound) && abandoned {
			return s.expireAbandoned(ctx, rec)
		}
		entry.WithError(err).Error("payments: status fetch failed")
		return "error"
	}

	updated, err := s.reconcile(ctx, rec, rep, TriggerSweep)
	if err != nil {
		entry.WithError(err).Error("payments: sweep update failed")
		return "error"
	}
	if updated.Status.IsOpen() && abandoned {
		return s.expireAbandoned(ctx, updated)
	}
	if updated.Status != rec.Status {
		return "updated"
	}
	return "unchanged"
}

func (s *Service) expireAbandoned(ctx context.Context, rec *Record) string {
	updated, err := s.expire(ctx, rec, TriggerSweep, "payment was not completed in time")
	if err != nil {
		s.logEntry(rec, TriggerSweep).WithError(err).Error("payments: failed to expire abandoned payment")
		return "error"
	}
	switch updated.Status {
	case gateway.StatusExpired, gateway.StatusCanceled:
		return "expired"
	case rec.Status:
		return "unchanged"
	}
	return "updated"
}

// GetPayment returns the caller's payment by provider reference. Another
// user's payment reads as not found.
func (s *Service) GetPayment(ctx context.Context, userID, externalRef string) (*View, error) {
	rec, err := s.ownedRecord(ctx, userID, externalRef)
	if err != nil {
		return nil, err
	}
	return rec.View(), nil
}

// History limits
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// ListPayments returns the caller's purchase history, newest first.
func (s *Service) ListPayments(ctx context.Context, userID string, limit int) ([]*View, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	records, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]*View, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.View())
	}
	return views, nil
}
