package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qrpay/config"
	"qrpay/utils"
)

// PaymentGateway is the request and status-query side of the gateway.
type PaymentGateway interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (*QRPayload, error)
	QueryStatus(ctx context.Context, retrievalReference string, frontendTimedOut bool) (QueryResult, error)
}

// NotificationSource opens push channels keyed by retrieval reference.
type NotificationSource interface {
	Subscribe(retrievalReference string, onEvent func(Notification), onStreamTimeout func()) *Subscription
}

type countdownTimer interface {
	Start(totalSeconds int, onTick func(remaining int), onExpire func())
	Stop()
}

var (
	ErrNotCancellable      = errors.New("payment cannot be cancelled in its current state")
	ErrTransactionFinished = errors.New("payment has already finished")
	ErrNotIdle             = errors.New("payment has already been started")
)

// ControllerConfig holds the timing and persistence settings of a controller.
type ControllerConfig struct {
	CountdownSeconds int
	TickInterval     time.Duration
	// StoreKey is where the retrieval reference is persisted while waiting.
	StoreKey     string
	StoreTimeout time.Duration
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 300
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.StoreKey == "" {
		c.StoreKey = ReferenceKey
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	return c
}

// Option customizes a Controller.
type Option func(*Controller)

// WithListener registers fn to receive a snapshot after every state or
// countdown change. Listeners run on the controller's event loop and must
// not block or call back into the controller's blocking methods.
func WithListener(fn func(Transaction)) Option {
	return func(c *Controller) {
		c.listeners = append(c.listeners, fn)
	}
}

// WithTransactionIDs replaces the UUID generator for transaction IDs.
func WithTransactionIDs(next func() string) Option {
	return func(c *Controller) {
		c.newID = next
	}
}

type eventKind int

const (
	evStart eventKind = iota
	evResume
	evRequestResult
	evTick
	evExpire
	evNotification
	evChannelTimeout
	evQueryResult
	evCancel
)

var eventNames = map[eventKind]string{
	evStart:          "start",
	evResume:         "resume",
	evRequestResult:  "request_result",
	evTick:           "tick",
	evExpire:         "countdown_expired",
	evNotification:   "notification",
	evChannelTimeout: "channel_timeout",
	evQueryResult:    "query_result",
	evCancel:         "cancel",
}

func (k eventKind) String() string {
	return eventNames[k]
}

type event struct {
	kind         eventKind
	request      PaymentRequest
	reference    string
	payload      *QRPayload
	err          error
	remaining    int
	notification Notification
	query        QueryResult
	reply        chan error
}

// Controller drives one QR payment from request to a terminal state. All
// events are handled one at a time on a single loop goroutine that alone owns
// the transaction; anything arriving in a state where it no longer applies is
// dropped, so the first terminal-causing event wins.
type Controller struct {
	cfg          ControllerConfig
	gateway      PaymentGateway
	notifier     NotificationSource
	store        ReferenceStore
	listeners    []func(Transaction)
	newID        func() string
	newCountdown func() countdownTimer

	loopOnce sync.Once
	events   chan event
	done     chan struct{}

	// ctx bounds the gateway calls; it is cancelled on reaching a terminal state.
	ctx    context.Context
	cancel context.CancelFunc

	// owned by the loop goroutine
	txn   Transaction
	timer countdownTimer
	sub   *Subscription

	mu       sync.RWMutex
	snapshot Transaction
	changed  chan struct{}
}

// NewController creates an idle controller. store may be nil, in which case
// nothing is persisted and the payment cannot be resumed after a reload.
func NewController(cfg ControllerConfig, gateway PaymentGateway, notifier NotificationSource, store ReferenceStore, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:      cfg,
		gateway:  gateway,
		notifier: notifier,
		store:    store,
		newID:    uuid.NewString,
		events:   make(chan event, 16),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		changed:  make(chan struct{}),
	}
	c.newCountdown = func() countdownTimer { return NewCountdown(cfg.TickInterval) }
	for _, opt := range opts {
		opt(c)
	}

	c.txn = Transaction{State: StateIdle, TotalSeconds: cfg.CountdownSeconds, RemainingSeconds: cfg.CountdownSeconds}
	c.snapshot = c.txn
	return c
}

// Start requests a QR code for amount. It returns once the controller has
// moved to Requesting; the gateway answer arrives asynchronously.
func (c *Controller) Start(ctx context.Context, amount decimal.Decimal, mobile string) error {
	if !amount.IsPositive() {
		return &RequestError{Code: CodeInvalid, Message: "amount must be positive"}
	}
	req := PaymentRequest{TransactionID: c.newID(), Amount: amount, Mobile: mobile}
	if req.TransactionID == "" {
		return &RequestError{Code: CodeInvalid, Message: "transaction id cannot be empty"}
	}
	return c.send(ctx, event{kind: evStart, request: req})
}

// Resume re-enters Displaying for a payment whose retrieval reference
// survived a reload: the countdown restarts and the push channel is reopened
// without requesting a new QR code.
func (c *Controller) Resume(ctx context.Context, retrievalReference string) error {
	if retrievalReference == "" {
		return fmt.Errorf("resume: %w", ErrReferenceNotFound)
	}
	return c.send(ctx, event{kind: evResume, reference: retrievalReference})
}

// Cancel stops a payment that is waiting for the customer. When it returns
// nil the countdown is stopped, the push channel is closed and the state is
// Cancelled.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.send(ctx, event{kind: evCancel})
}

// Snapshot returns a copy of the current transaction.
func (c *Controller) Snapshot() Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Done is closed once the controller has reached a terminal state and
// released its timer and subscription.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// WaitFor blocks until pred holds for the current snapshot or ctx ends.
func (c *Controller) WaitFor(ctx context.Context, pred func(Transaction) bool) (Transaction, error) {
	for {
		c.mu.RLock()
		snap, changed := c.snapshot, c.changed
		c.mu.RUnlock()

		if pred(snap) {
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Wait blocks until the payment reaches a terminal state.
func (c *Controller) Wait(ctx context.Context) (Transaction, error) {
	return c.WaitFor(ctx, Transaction.IsTerminal)
}

func (c *Controller) send(ctx context.Context, ev event) error {
	c.loopOnce.Do(func() { go c.run() })

	ev.reply = make(chan error, 1)
	select {
	case c.events <- ev:
	case <-c.done:
		return ErrTransactionFinished
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return err
	case <-c.done:
		// the loop may have answered just before exiting
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrTransactionFinished
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an asynchronous event; it is a no-op once the loop has ended.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		ev := <-c.events
		c.handle(ev)
		if c.txn.State.IsTerminal() {
			return
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev.kind {
	case evStart:
		ev.reply <- c.onStart(ev.request)
	case evResume:
		ev.reply <- c.onResume(ev.reference)
	case evCancel:
		ev.reply <- c.onCancel()
	case evRequestResult:
		c.onRequestResult(ev)
	case evTick:
		c.onTick(ev.remaining)
	case evExpire:
		c.onExpire()
	case evNotification:
		c.onNotification(ev.notification)
	case evChannelTimeout:
		c.onChannelTimeout()
	case evQueryResult:
		c.onQueryResult(ev.query, ev.err)
	}
}

func (c *Controller) onStart(req PaymentRequest) error {
	if c.txn.State != StateIdle {
		return fmt.Errorf("%w: %v", ErrNotIdle, c.txn.State.CanTransitionTo(StateRequesting))
	}

	c.txn.TransactionID = req.TransactionID
	c.txn.Amount = req.Amount
	c.txn.Mobile = req.Mobile
	c.txn.StartedAt = time.Now()
	c.transition(StateRequesting)

	go func() {
		payload, err := c.gateway.RequestPayment(c.ctx, req)
		c.post(event{kind: evRequestResult, payload: payload, err: err})
	}()
	return nil
}

func (c *Controller) onResume(ref string) error {
	if c.txn.State != StateIdle {
		return fmt.Errorf("%w: %v", ErrNotIdle, c.txn.State.CanTransitionTo(StateDisplaying))
	}

	c.txn.TransactionID = c.newID()
	c.txn.RetrievalReference = ref
	c.txn.Resumed = true
	c.txn.StartedAt = time.Now()
	utils.Info("payment", "Resuming payment from persisted reference", "retrieval_ref", ref)
	c.enterDisplaying()
	return nil
}

func (c *Controller) onRequestResult(ev event) {
	if c.txn.State != StateRequesting {
		c.drop(ev.kind)
		return
	}

	if ev.err != nil {
		var reqErr *RequestError
		if errors.As(ev.err, &reqErr) {
			if reqErr.Code != CodeTransport && reqErr.Code != CodeInvalid {
				c.txn.ResponseCode = reqErr.Code
			}
			c.txn.NetworkStatus = reqErr.NetworkStatus
			c.txn.Message = reqErr.UserMessage()
		} else {
			c.txn.Message = config.GetPaymentMessage("decline", "transport")
		}
		c.transition(StateDeclined)
		return
	}

	if ev.payload == nil || ev.payload.RetrievalReference == "" {
		utils.Error("payment", "Gateway approved a QR code without a retrieval reference", "txn_id", c.txn.TransactionID)
		c.txn.Message = config.GetPaymentMessage("decline", "default")
		c.transition(StateDeclined)
		return
	}

	c.txn.RetrievalReference = ev.payload.RetrievalReference
	c.txn.QRImageBase64 = ev.payload.QRImageBase64
	c.txn.ResponseCode = ev.payload.ResponseCode
	c.txn.NetworkStatus = ev.payload.NetworkStatus
	c.enterDisplaying()
}

func (c *Controller) enterDisplaying() {
	c.persistReference()
	c.txn.RemainingSeconds = c.cfg.CountdownSeconds

	// callbacks only post to the loop, so the watchers can start before the
	// state is published
	ref := c.txn.RetrievalReference
	c.timer = c.newCountdown()
	c.timer.Start(c.cfg.CountdownSeconds,
		func(remaining int) { c.post(event{kind: evTick, remaining: remaining}) },
		func() { c.post(event{kind: evExpire}) },
	)
	c.sub = c.notifier.Subscribe(ref,
		func(n Notification) { c.post(event{kind: evNotification, notification: n}) },
		func() { c.post(event{kind: evChannelTimeout}) },
	)
	c.transition(StateDisplaying)
}

func (c *Controller) onTick(remaining int) {
	if c.txn.State != StateDisplaying || remaining >= c.txn.RemainingSeconds {
		return
	}
	c.txn.RemainingSeconds = remaining
	c.publish()
}

func (c *Controller) onExpire() {
	if c.txn.State != StateDisplaying {
		c.drop(evExpire)
		return
	}
	c.txn.RemainingSeconds = 0
	c.stopWatchers()
	c.beginQuery(true, TriggerCountdown)
}

func (c *Controller) onNotification(n Notification) {
	if c.txn.State != StateDisplaying {
		c.drop(evNotification)
		return
	}

	c.stopWatchers()
	c.txn.ResponseCode = n.ResponseCode
	if n.Kind == NotificationConfirmed {
		c.txn.Message = config.GetPaymentMessage("qr", "succeeded")
		c.transition(StateSucceeded)
		return
	}
	c.beginQuery(false, TriggerRejected)
}

func (c *Controller) onChannelTimeout() {
	if c.txn.State != StateDisplaying {
		c.drop(evChannelTimeout)
		return
	}
	c.stopWatchers()
	c.beginQuery(false, TriggerChannelTimeout)
}

func (c *Controller) beginQuery(frontendTimedOut bool, trigger QueryTrigger) {
	c.txn.QueryTrigger = trigger
	c.transition(StateQuerying)

	ref := c.txn.RetrievalReference
	go func() {
		result, err := c.gateway.QueryStatus(c.ctx, ref, frontendTimedOut)
		c.post(event{kind: evQueryResult, query: result, err: err})
	}()
}

func (c *Controller) onQueryResult(result QueryResult, err error) {
	if c.txn.State != StateQuerying {
		c.drop(evQueryResult)
		return
	}

	switch {
	case err != nil:
		c.txn.Message = config.GetPaymentMessage("decline", "query")
		c.transition(StateDeclined)
	case result == QueryConfirmed:
		c.txn.Message = config.GetPaymentMessage("qr", "succeeded")
		c.transition(StateSucceeded)
	default:
		c.txn.Message = config.GetPaymentMessage("decline", "declined")
		c.transition(StateDeclined)
	}
}

func (c *Controller) onCancel() error {
	if err := c.txn.State.CanTransitionTo(StateCancelled); err != nil {
		return fmt.Errorf("%w: %v", ErrNotCancellable, err)
	}
	c.stopWatchers()
	c.txn.Message = config.GetPaymentMessage("qr", "cancelled")
	c.transition(StateCancelled)
	return nil
}

// transition moves the transaction to state "to", tearing everything down
// when "to" is terminal.
func (c *Controller) transition(to State) {
	from := c.txn.State
	if err := from.CanTransitionTo(to); err != nil {
		utils.Error("payment", "Refusing state change", "txn_id", c.txn.TransactionID, "error", err)
		return
	}

	c.txn.State = to
	observeTransition(from, to)
	utils.Info("payment", "Payment state changed",
		"txn_id", c.txn.TransactionID,
		"retrieval_ref", c.txn.RetrievalReference,
		"from", from.String(),
		"to", to.String(),
	)

	if to.IsTerminal() {
		c.stopWatchers()
		c.txn.CompletedAt = time.Now()
		c.clearReference()
		c.cancel()
	}
	c.publish()
}

func (c *Controller) stopWatchers() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
}

func (c *Controller) persistReference() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.store.Save(ctx, c.cfg.StoreKey, c.txn.RetrievalReference); err != nil {
		utils.Warn("payment", "Could not persist retrieval reference", "retrieval_ref", c.txn.RetrievalReference, "error", err)
	}
}

func (c *Controller) clearReference() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.store.Clear(ctx, c.cfg.StoreKey); err != nil {
		utils.Warn("payment", "Could not clear retrieval reference", "key", c.cfg.StoreKey, "error", err)
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	c.snapshot = c.txn
	close(c.changed)
	c.changed = make(chan struct{})
	snap := c.snapshot
	c.mu.Unlock()

	for _, listener := range c.listeners {
		listener(snap)
	}
}

func (c *Controller) drop(kind eventKind) {
	utils.Debug("payment", "Ignoring late event",
		"txn_id", c.txn.TransactionID,
		"event", kind.String(),
		"state", c.txn.State.String(),
	)
}
