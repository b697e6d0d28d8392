package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/ledger"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
	"github.com/vibast-solutions/ms-go-settlements/app/repository"
	"github.com/vibast-solutions/ms-go-settlements/config"
)

type memoryPayments struct {
	mu     sync.Mutex
	nextID uint64
	items  map[uint64]*entity.Payment
}

func newMemoryPayments() *memoryPayments {
	return &memoryPayments{items: map[uint64]*entity.Payment{}}
}

func copyPayment(p *entity.Payment) *entity.Payment {
	out := *p
	out.Details = make(map[string]string, len(p.Details))
	for k, v := range p.Details {
		out.Details[k] = v
	}
	return &out
}

func (m *memoryPayments) Create(_ context.Context, payment *entity.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.PayerID == payment.PayerID && item.IdempotencyKey == payment.IdempotencyKey {
			return repository.ErrPaymentAlreadyExists
		}
	}
	m.nextID++
	payment.ID = m.nextID
	m.items[payment.ID] = copyPayment(payment)
	return nil
}

func (m *memoryPayments) FindByID(_ context.Context, id uint64) (*entity.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return copyPayment(item), nil
}

func (m *memoryPayments) TransitionStatus(_ context.Context, t repository.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[t.ID]
	if !ok || item.Status != t.From {
		return false, nil
	}
	item.Status = t.To
	for k, v := range t.Details {
		item.Details[k] = v
	}
	item.UpdatedAt = t.At
	if t.ArmEffects {
		at := t.At
		item.EffectsStatus = entity.EffectsPending
		item.EffectsAttempts = 0
		item.EffectsNextAt = &at
		item.EffectsLastErr = nil
	}
	return true, nil
}

func (m *memoryPayments) AttachExternalID(_ context.Context, id uint64, externalID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return false, nil
	}
	for _, other := range m.items {
		if other.ID != id && other.Rail == item.Rail && other.ExternalID != nil && *other.ExternalID == externalID {
			return false, repository.ErrPaymentAlreadyExists
		}
	}
	if item.Status != entity.PaymentStatusPending || item.ExternalID != nil {
		return false, nil
	}
	item.ExternalID = &externalID
	item.UpdatedAt = at
	return true, nil
}

func (m *memoryPayments) MergeDetails(_ context.Context, id uint64, details map[string]string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		for k, v := range details {
			item.Details[k] = v
		}
		item.UpdatedAt = at
	}
	return nil
}

func (m *memoryPayments) FindByPayerIdempotencyKey(_ context.Context, payerID uint64, key string) (*entity.Payment, error) {
	return m.findFirst(func(p *entity.Payment) bool {
		return p.PayerID == payerID && p.IdempotencyKey == key
	}), nil
}

func (m *memoryPayments) FindByExternalID(_ context.Context, rail, externalID string) (*entity.Payment, error) {
	return m.findFirst(func(p *entity.Payment) bool {
		return p.Rail == rail && p.ExternalID != nil && *p.ExternalID == externalID
	}), nil
}

func (m *memoryPayments) FindByCorrelationID(_ context.Context, rail, correlationID string) (*entity.Payment, error) {
	return m.findFirst(func(p *entity.Payment) bool {
		return p.Rail == rail && p.Details[entity.DetailCorrelationID] == correlationID
	}), nil
}

func (m *memoryPayments) List(_ context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error) {
	return m.findAll(func(p *entity.Payment) bool {
		return (filter.PayerID == 0 || p.PayerID == filter.PayerID) &&
			(filter.Status == "" || p.Status == filter.Status) &&
			(filter.Rail == "" || p.Rail == filter.Rail)
	}), nil
}

func (m *memoryPayments) ListForReconcile(_ context.Context, before time.Time, _ int32) ([]*entity.Payment, error) {
	return m.findAll(func(p *entity.Payment) bool {
		return p.Status == entity.PaymentStatusPending && !p.UpdatedAt.After(before)
	}), nil
}

func (m *memoryPayments) ListExpiredPending(_ context.Context, cutoff time.Time, _ int32) ([]*entity.Payment, error) {
	return m.findAll(func(p *entity.Payment) bool {
		return p.Status == entity.PaymentStatusPending && !p.CreatedAt.After(cutoff)
	}), nil
}

func (m *memoryPayments) ListDueEffects(_ context.Context, now time.Time, _ int32) ([]*entity.Payment, error) {
	return m.findAll(func(p *entity.Payment) bool {
		return effectsDue(p, now)
	}), nil
}

func (m *memoryPayments) ClaimEffects(_ context.Context, id uint64, now, leaseUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || !effectsDue(item, now) {
		return false, nil
	}
	item.EffectsStatus = entity.EffectsProcessing
	item.EffectsAttempts++
	item.EffectsNextAt = &leaseUntil
	return true, nil
}

func (m *memoryPayments) CompleteEffects(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.EffectsStatus = entity.EffectsSuccess
	item.EffectsNextAt = nil
	item.EffectsLastErr = nil
	return nil
}

func (m *memoryPayments) RecordEffectsFailure(_ context.Context, id uint64, nextAt *time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.EffectsLastErr = &lastErr
	item.EffectsNextAt = nextAt
	if nextAt == nil {
		item.EffectsStatus = entity.EffectsFailed
	} else {
		item.EffectsStatus = entity.EffectsPending
	}
	return nil
}

func (m *memoryPayments) findFirst(match func(p *entity.Payment) bool) *entity.Payment {
	items := m.findAll(match)
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

func (m *memoryPayments) findAll(match func(p *entity.Payment) bool) []*entity.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Payment, 0)
	for _, item := range m.items {
		if match(item) {
			out = append(out, copyPayment(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryPayments) setCreatedAt(id uint64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].CreatedAt = at
	m.items[id].UpdatedAt = at
}

func effectsDue(p *entity.Payment, now time.Time) bool {
	return (p.EffectsStatus == entity.EffectsPending || p.EffectsStatus == entity.EffectsProcessing) &&
		p.EffectsNextAt != nil && !p.EffectsNextAt.After(now)
}

type memoryEvents struct {
	mu       sync.Mutex
	items    []*entity.PaymentEvent
	failType string
}

func (m *memoryEvents) Create(_ context.Context, event *entity.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failType != "" && event.EventType == m.failType {
		return errors.New("insert payment_events: connection reset")
	}
	m.items = append(m.items, event)
	return nil
}

func (m *memoryEvents) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.EventType == eventType {
			n++
		}
	}
	return n
}

type memoryCallbacks struct {
	mu    sync.Mutex
	items []*entity.PaymentCallback
}

func (m *memoryCallbacks) Create(_ context.Context, callback *entity.PaymentCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, callback)
	return nil
}

func (m *memoryCallbacks) last() *entity.PaymentCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil
	}
	return m.items[len(m.items)-1]
}

type memoryLicenses struct {
	mu       sync.Mutex
	items    map[uint64]*entity.License
	renewals map[uint64]*entity.LicenseRenewal
	attempts int
}

func newMemoryLicenses(licenses ...*entity.License) *memoryLicenses {
	m := &memoryLicenses{items: map[uint64]*entity.License{}, renewals: map[uint64]*entity.LicenseRenewal{}}
	for _, license := range licenses {
		m.items[license.ID] = license
	}
	return m
}

func (m *memoryLicenses) FindByID(_ context.Context, id uint64) (*entity.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id], nil
}

func (m *memoryLicenses) FindForUser(_ context.Context, userID uint64) (*entity.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, license := range m.items {
		if license.UserID == userID {
			return license, nil
		}
	}
	return nil, nil
}

func (m *memoryLicenses) Renew(_ context.Context, paymentID, licenseID uint64, window time.Duration, now time.Time) (*entity.LicenseRenewal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if existing, ok := m.renewals[paymentID]; ok {
		return existing, false, nil
	}
	license, ok := m.items[licenseID]
	if !ok {
		return nil, false, repository.ErrLicenseNotFound
	}
	base := now
	if license.ExpiresAt != nil && license.ExpiresAt.After(now) {
		base = *license.ExpiresAt
	}
	extended := base.Add(window)
	license.ExpiresAt = &extended
	license.Status = entity.LicenseStatusActive
	renewal := &entity.LicenseRenewal{PaymentID: paymentID, LicenseID: licenseID, ExtendedTo: extended, CreatedAt: now}
	m.renewals[paymentID] = renewal
	return renewal, true, nil
}

func (m *memoryLicenses) renewalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.renewals)
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []uint64
	failures int
}

func (n *fakeNotifier) SendPaymentConfirmation(_ context.Context, payment *entity.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("notifications returned status=503")
	}
	n.sent = append(n.sent, payment.ID)
	return nil
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeRail struct {
	rail string

	mu            sync.Mutex
	initiateOut   *provider.InitiateOutput
	initiateErr   error
	initiateCalls int
	status        *provider.StatusResult
	statusErr     error
	statusCalls   int
	validSig      bool
	sigErr        error
	event         *provider.CallbackEvent
	parseErr      error
	captureResult *provider.CaptureResult
	captureErr    error
	refundResult  *provider.RefundResult
	refundErr     error
	refundInputs  []*provider.RefundInput
	recoverOut    *provider.InitiateOutput
	recoverErr    error
	recoverInputs []*provider.InitiateInput
}

func (f *fakeRail) Rail() string { return f.rail }

func (f *fakeRail) Initiate(_ context.Context, _ *provider.InitiateInput) (*provider.InitiateOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiateCalls++
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return f.initiateOut, nil
}

func (f *fakeRail) QueryStatus(_ context.Context, _ string) (*provider.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func (f *fakeRail) VerifySignature(_ context.Context, _ []byte, _ http.Header) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validSig, f.sigErr
}

func (f *fakeRail) ParseCallback(_ []byte) (*provider.CallbackEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

func (f *fakeRail) Capture(_ context.Context, _ string) (*provider.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.captureResult, nil
}

func (f *fakeRail) Refund(_ context.Context, input *provider.RefundInput) (*provider.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundInputs = append(f.refundInputs, input)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return f.refundResult, nil
}

// recoveringRail adds submission recovery to a fakeRail, like the card rail.
type recoveringRail struct {
	*fakeRail
}

func (r recoveringRail) Recover(_ context.Context, input *provider.InitiateInput) (*provider.InitiateOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoverInputs = append(r.recoverInputs, input)
	if r.recoverErr != nil {
		return nil, r.recoverErr
	}
	return r.recoverOut, nil
}

func (f *fakeRail) recoverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recoverInputs)
}

type fixture struct {
	svc       *PaymentService
	payments  *memoryPayments
	events    *memoryEvents
	callbacks *memoryCallbacks
	licenses  *memoryLicenses
	notifier  *fakeNotifier
	momo      *fakeRail
	card      *fakeRail
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	converter, err := currency.NewConverter("XAF", "EUR", decimal.NewFromInt(600))
	if err != nil {
		t.Fatalf("converter: %v", err)
	}

	f := &fixture{
		payments:  newMemoryPayments(),
		events:    &memoryEvents{},
		callbacks: &memoryCallbacks{},
		licenses: newMemoryLicenses(&entity.License{
			ID:     10,
			UserID: 7,
			Status: entity.LicenseStatusInactive,
		}),
		notifier: &fakeNotifier{},
		momo: &fakeRail{
			rail:        entity.RailMobileMoney,
			initiateOut: &provider.InitiateOutput{ExternalID: "momo-ref-1", Status: provider.RailStatusAccepted},
			validSig:    true,
		},
		card: &fakeRail{
			rail: entity.RailCardOrder,
			initiateOut: &provider.InitiateOutput{
				ExternalID:  "ORDER-1",
				Status:      provider.RailStatusPending,
				ApprovalURL: "https://paypal.example/approve?token=ORDER-1",
			},
			validSig: true,
		},
	}

	f.svc = NewPaymentService(
		ledger.New(f.payments, f.events),
		f.payments,
		f.events,
		f.callbacks,
		f.licenses,
		f.notifier,
		provider.NewRegistry(f.momo, recoveringRail{f.card}),
		converter,
		config.PaymentsConfig{
			LicenseRenewalWindow: 30 * 24 * time.Hour,
			EffectsMaxAttempts:   3,
			EffectsRetryBase:     30 * time.Second,
			EffectsRetryMax:      10 * time.Minute,
			EffectsLease:         5 * time.Minute,
			PendingTimeout:       time.Hour,
			UnattachedTimeout:    24 * time.Hour,
			ReconcileStaleAfter:  0,
			JobBatchSize:         50,
			Description:          "Platform payment",
		},
	)
	return f
}
