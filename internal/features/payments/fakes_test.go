package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/features/games"
	"serotonyl.ru/token-shop/internal/features/release"
	"serotonyl.ru/token-shop/internal/gateway"
	"serotonyl.ru/token-shop/internal/notify"
)

// memStore is an in-memory Store. Every method runs under one mutex, which
// gives the same lock-check-write behavior as the row locks in Postgres.
type memStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	balances  map[string]int64
	creditErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record), balances: make(map[string]int64)}
}

func balanceKey(userID string, gameID int64, location string) string {
	return fmt.Sprintf("%s|%d|%s", userID, gameID, location)
}

func (m *memStore) balance(userID string, gameID int64, location string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey(userID, gameID, location)]
}

func (m *memStore) record(id string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Clone()
}

func (m *memStore) setCreditErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creditErr = err
}

func (m *memStore) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ExternalRef == rec.ExternalRef {
			return errors.New("duplicate external ref")
		}
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, common.ErrPaymentNotFound
	}
	return r.Clone(), nil
}

func (m *memStore) GetByExternalRef(_ context.Context, ref string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ExternalRef == ref {
			return r.Clone(), nil
		}
	}
	return nil, common.ErrPaymentNotFound
}

func (m *memStore) FindRecentOpen(_ context.Context, key PurchaseKey, since time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Record
	for _, r := range m.records {
		if r.Key() != key || !r.Status.IsOpen() || r.CreatedAt.Before(since) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, common.ErrPaymentNotFound
	}
	return best.Clone(), nil
}

func (m *memStore) sorted(keep func(*Record) bool, less func(a, b *Record) bool, limit int) []*Record {
	var out []*Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) ListByUser(_ context.Context, userID string, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(
		func(r *Record) bool { return r.UserID == userID },
		func(a, b *Record) bool { return a.CreatedAt.After(b.CreatedAt) },
		limit,
	), nil
}

func (m *memStore) ListOpen(_ context.Context, providers []string, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(
		func(r *Record) bool {
			if r.Status.IsOpen() {
				return slices.Contains(providers, string(r.Provider))
			}
			return r.NeedsCredit() && r.TokensScheduledFor == nil
		},
		func(a, b *Record) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
		limit,
	), nil
}

func (m *memStore) ListDueReleases(_ context.Context, now time.Time, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(
		func(r *Record) bool {
			return r.NeedsCredit() && r.TokensScheduledFor != nil && !r.TokensScheduledFor.After(now)
		},
		func(a, b *Record) bool { return a.TokensScheduledFor.Before(*b.TokensScheduledFor) },
		limit,
	), nil
}

func (m *memStore) ApplyUpdate(_ context.Context, id string, fn func(*Record) (bool, error)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return nil, common.ErrPaymentNotFound
	}
	next := cur.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if changed {
		m.records[id] = next.Clone()
	}
	return next, nil
}

func (m *memStore) ScheduleRelease(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || !r.NeedsCredit() || r.TokensScheduledFor != nil {
		return false, nil
	}
	r.TokensScheduledFor = &at
	return true, nil
}

func (m *memStore) Credit(_ context.Context, id string, now time.Time) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creditErr != nil {
		return nil, false, m.creditErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, false, common.ErrPaymentNotFound
	}
	if !r.NeedsCredit() {
		return r.Clone(), false, nil
	}
	m.balances[balanceKey(r.UserID, r.GameID, r.Location)] += r.TokenQuantity
	r.TokensAdded = true
	r.TokensScheduledFor = nil
	r.CreditedAt = &now
	r.UpdatedAt = now
	return r.Clone(), true, nil
}

// fakeGateway serves statuses from memory. Webhook bodies are JSON
// testEvent values, authenticated by a fixed header.
type fakeGateway struct {
	mu         sync.Mutex
	provider   gateway.Provider
	reports    map[string]*gateway.StatusReport
	fetchErr   map[string]error
	confirmErr error
	createErr  error
	cancelErr  error
	created    int
	fetches    int
	cancels    int

	// paidBeforeCancel makes the customer's payment land just before the
	// cancel request reaches the provider.
	paidBeforeCancel bool
}

type testEvent struct {
	ID      string           `json:"id"`
	Ref     string           `json:"ref"`
	Status  gateway.Status   `json:"status"`
	Raw     string           `json:"raw"`
	Failure *gateway.Failure `json:"failure,omitempty"`
}

const testSignatureHeader = "X-Test-Signature"

func newFakeGateway(p gateway.Provider) *fakeGateway {
	return &fakeGateway{
		provider: p,
		reports:  make(map[string]*gateway.StatusReport),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeGateway) Provider() gateway.Provider { return f.provider }

func (f *fakeGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if req.AmountCents <= 0 || req.CorrelationID == "" {
		return nil, gateway.NewError(gateway.ErrInvalidRequest, "create", nil)
	}
	f.created++
	ref := fmt.Sprintf("%s_%d", f.provider, f.created)
	f.reports[ref] = &gateway.StatusReport{ExternalRef: ref, ProviderStatus: "open", Status: gateway.StatusCreated}
	return &gateway.Intent{
		ExternalRef:    ref,
		ClientHandle:   ref + "_secret",
		ProviderStatus: "open",
		Status:         gateway.StatusCreated,
	}, nil
}

func (f *fakeGateway) set(ref string, status gateway.Status, raw string, failure *gateway.Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[ref] = &gateway.StatusReport{ExternalRef: ref, ProviderStatus: raw, Status: status, Failure: failure, PaymentMethod: "card"}
}

func (f *fakeGateway) report(ref string) (*gateway.StatusReport, error) {
	rep, ok := f.reports[ref]
	if !ok {
		return nil, gateway.NewError(gateway.ErrNotFound, "fetch", nil)
	}
	c := *rep
	return &c, nil
}

func (f *fakeGateway) ConfirmOrCapture(_ context.Context, ref string) (*gateway.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.report(ref)
}

func (f *fakeGateway) FetchStatus(_ context.Context, ref string) (*gateway.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := f.fetchErr[ref]; err != nil {
		return nil, err
	}
	return f.report(ref)
}

// cancelingGateway adds provider-side cancellation, the way Stripe intents
// work.
type cancelingGateway struct {
	*fakeGateway
}

var _ gateway.Canceler = cancelingGateway{}

func (g cancelingGateway) Cancel(_ context.Context, ref string) (*gateway.StatusReport, error) {
	f := g.fakeGateway
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	rep, ok := f.reports[ref]
	if !ok {
		return nil, gateway.NewError(gateway.ErrNotFound, "cancel", nil)
	}
	if f.paidBeforeCancel {
		rep.Status = gateway.StatusSucceeded
		rep.ProviderStatus = "succeeded"
	}
	switch {
	case rep.Status == gateway.StatusSucceeded || rep.Status == gateway.StatusRefunded:
		return nil, gateway.NewError(gateway.ErrAlreadyCaptured, "cancel", nil)
	case rep.Status.IsOpen():
		rep.Status = gateway.StatusCanceled
		rep.ProviderStatus = "canceled"
	}
	c := *rep
	return &c, nil
}

func (f *fakeGateway) ParseWebhook(_ context.Context, header http.Header, body []byte) (*gateway.WebhookEvent, error) {
	if header.Get(testSignatureHeader) != "valid" {
		return nil, common.ErrWebhookSignature
	}
	var e testEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	evt := &gateway.WebhookEvent{ID: e.ID, Type: "test." + string(e.Status)}
	if e.Ref != "" {
		evt.Report = &gateway.StatusReport{ExternalRef: e.Ref, ProviderStatus: e.Raw, Status: e.Status, Failure: e.Failure}
	}
	return evt, nil
}

func webhookBody(t *testing.T, e testEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func signedHeader() http.Header {
	h := http.Header{}
	h.Set(testSignatureHeader, "valid")
	return h
}

type catalogStore struct{}

func (catalogStore) GetByID(_ context.Context, id int64) (*games.Game, error) {
	if id != 7 {
		return nil, common.ErrGameNotFound
	}
	return &games.Game{
		ID:        7,
		Name:      "Air Hockey",
		Locations: []string{"Plaza Río", "Centro Norte", "Mall Sur"},
		Packages:  []games.TokenPackage{{Tokens: 100, PriceCents: 500}, {Tokens: 250, PriceCents: 1000}},
		Active:    true,
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Dispatch(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}
	return c
}

type memEventLog struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (l *memEventLog) Seen(_ context.Context, provider, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[provider+":"+id], nil
}

func (l *memEventLog) Mark(_ context.Context, provider, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	l.seen[provider+":"+id] = true
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires an engine over the fakes. The business zone is UTC;
// "plaza" locations use the morning window, "centro" the overnight one.
type harness struct {
	svc      *Service
	store    *memStore
	stripe   *fakeGateway
	paypal   *fakeGateway
	notifier *recordingNotifier
	events   *memEventLog
	clock    *clock
}

// afternoon is outside every release window.
var afternoon = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		stripe:   newFakeGateway(gateway.ProviderStripe),
		paypal:   newFakeGateway(gateway.ProviderPayPal),
		notifier: &recordingNotifier{},
		events:   &memEventLog{},
		clock:    &clock{t: afternoon},
	}
	h.svc = NewService(Deps{
		Store:     h.store,
		Catalog:   games.NewService(catalogStore{}),
		Evaluator: release.NewEvaluator(time.UTC, []string{"plaza"}, []string{"centro"}),
		Gateways:  []gateway.Gateway{cancelingGateway{h.stripe}, h.paypal},
		Notifier:  h.notifier,
		Events:    h.events,
	}, Config{Currency: "USD", DuplicateWindow: 30 * time.Minute, OpenTTL: 24 * time.Hour, Concurrency: 4})
	h.svc.now = h.clock.Now
	return h
}

func (h *harness) purchase(t *testing.T, location string) *PurchaseResult {
	t.Helper()
	res, err := h.svc.InitiatePurchase(context.Background(), PurchaseRequest{
		UserID:       "u1",
		Provider:     gateway.ProviderStripe,
		GameID:       7,
		PackageIndex: 1,
		Location:     location,
	})
	if err != nil {
		t.Fatalf("initiate purchase: %v", err)
	}
	return res
}
