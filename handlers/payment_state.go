package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"qrpay/services"
	"qrpay/utils"
)

var (
	ErrPaymentInProgress = errors.New("a payment is already in progress")
	ErrNoPayment         = errors.New("no payment for this session")
)

// ControllerFactory builds the controller for one session's payment.
type ControllerFactory func(storeKey string, opts ...services.Option) *services.Controller

// NewControllerFactory wires every session's controller to the same gateway,
// notification source and reference store.
func NewControllerFactory(cfg services.ControllerConfig, gateway services.PaymentGateway, notifier services.NotificationSource, store services.ReferenceStore) ControllerFactory {
	return func(storeKey string, opts ...services.Option) *services.Controller {
		c := cfg
		c.StoreKey = storeKey
		return services.NewController(c, gateway, notifier, store, opts...)
	}
}

// PaymentSessionManager keeps the current payment of every browser session.
type PaymentSessionManager struct {
	sessions      map[string]*services.Controller
	mutex         sync.RWMutex
	newController ControllerFactory
	store         services.ReferenceStore
	broadcaster   *SSEBroadcaster
	events        *PaymentEventLogger
}

// NewPaymentSessionManager creates a manager. store may be nil when payments
// are not resumable.
func NewPaymentSessionManager(factory ControllerFactory, store services.ReferenceStore, broadcaster *SSEBroadcaster, events *PaymentEventLogger) *PaymentSessionManager {
	return &PaymentSessionManager{
		sessions:      make(map[string]*services.Controller),
		newController: factory,
		store:         store,
		broadcaster:   broadcaster,
		events:        events,
	}
}

// GetPayment returns the session's current controller, finished or not.
func (m *PaymentSessionManager) GetPayment(sessionID string) (*services.Controller, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ctrl, exists := m.sessions[sessionID]
	return ctrl, exists
}

// StartPayment begins a new payment for the session. A finished payment is
// replaced; an unfinished one is not.
func (m *PaymentSessionManager) StartPayment(ctx context.Context, sessionID string, amount decimal.Decimal, mobile string) (*services.Controller, error) {
	m.mutex.Lock()
	previous, exists := m.sessions[sessionID]
	if exists && !previous.Snapshot().IsTerminal() {
		m.mutex.Unlock()
		return previous, ErrPaymentInProgress
	}
	ctrl := m.newController(services.SessionReferenceKey(sessionID), m.listener(sessionID))
	m.sessions[sessionID] = ctrl
	m.mutex.Unlock()

	if err := ctrl.Start(ctx, amount, mobile); err != nil {
		m.mutex.Lock()
		if m.sessions[sessionID] == ctrl {
			if previous != nil {
				m.sessions[sessionID] = previous
			} else {
				delete(m.sessions, sessionID)
			}
		}
		m.mutex.Unlock()
		return nil, err
	}

	utils.Info("payment", "Payment started", "session", sessionID, "txn_id", ctrl.Snapshot().TransactionID, "amount", amount.StringFixed(2))
	return ctrl, nil
}

// ResumePayment returns the session's controller, recreating it from a
// persisted retrieval reference after a reload or restart. It returns nil
// when there is nothing to show.
func (m *PaymentSessionManager) ResumePayment(ctx context.Context, sessionID string) (*services.Controller, error) {
	if ctrl, exists := m.GetPayment(sessionID); exists {
		return ctrl, nil
	}
	if m.store == nil {
		return nil, nil
	}

	key := services.SessionReferenceKey(sessionID)
	ref, err := m.store.Load(ctx, key)
	if errors.Is(err, services.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	if ctrl, exists := m.sessions[sessionID]; exists {
		m.mutex.Unlock()
		return ctrl, nil
	}
	ctrl := m.newController(key, m.listener(sessionID))
	m.sessions[sessionID] = ctrl
	m.mutex.Unlock()

	if err := ctrl.Resume(ctx, ref); err != nil {
		m.RemovePayment(sessionID)
		return nil, err
	}
	return ctrl, nil
}

// CancelPayment cancels the session's unfinished payment.
func (m *PaymentSessionManager) CancelPayment(ctx context.Context, sessionID string) (*services.Controller, error) {
	ctrl, exists := m.GetPayment(sessionID)
	if !exists {
		return nil, ErrNoPayment
	}
	if err := ctrl.Cancel(ctx); err != nil {
		return ctrl, err
	}
	return ctrl, nil
}

// RemovePayment forgets the session's payment.
func (m *PaymentSessionManager) RemovePayment(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

// GetActiveCount returns the number of unfinished payments.
func (m *PaymentSessionManager) GetActiveCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	active := 0
	for _, ctrl := range m.sessions {
		if !ctrl.Snapshot().IsTerminal() {
			active++
		}
	}
	return active
}

// CleanupFinished drops finished payments older than maxAge.
func (m *PaymentSessionManager) CleanupFinished(maxAge time.Duration) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0
	for id, ctrl := range m.sessions {
		txn := ctrl.Snapshot()
		if txn.IsTerminal() && time.Since(txn.CompletedAt) > maxAge {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunCleanup calls CleanupFinished every interval until ctx ends.
func (m *PaymentSessionManager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupFinished(maxAge); n > 0 {
				utils.Debug("payment", "Removed finished payments", "count", n)
			}
		}
	}
}

// listener pushes every change to the session's browsers and records the
// outcome once the payment is final.
func (m *PaymentSessionManager) listener(sessionID string) services.Option {
	return services.WithListener(func(txn services.Transaction) {
		if m.broadcaster != nil {
			m.broadcaster.BroadcastTransaction(sessionID, txn)
		}
		if txn.IsTerminal() && m.events != nil {
			go m.events.LogPaymentOutcome(txn)
		}
	})
}

// PaymentEventLogger hands terminal payments to the outcome recorders.
type PaymentEventLogger struct {
	recorder services.OutcomeRecorder
	timeout  time.Duration
}

func NewPaymentEventLogger(recorder services.OutcomeRecorder, timeout time.Duration) *PaymentEventLogger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaymentEventLogger{recorder: recorder, timeout: timeout}
}

// LogPaymentOutcome records a terminal transaction.
func (l *PaymentEventLogger) LogPaymentOutcome(txn services.Transaction) {
	outcome := services.NewOutcome(txn)
	utils.Info("payment", "Payment finished",
		"txn_id", outcome.TransactionID,
		"retrieval_ref", outcome.RetrievalReference,
		"state", outcome.State,
		"response_code", outcome.ResponseCode,
		"query_trigger", outcome.QueryTrigger,
	)
	if l.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.recorder.RecordOutcome(ctx, outcome); err != nil {
		utils.Error("payment", "Error recording payment outcome", "txn_id", outcome.TransactionID, "error", err)
	}
}
