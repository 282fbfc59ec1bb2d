// Package sandbox simulates the QR payment gateway for local development and
// integration tests: it issues real QR codes, answers status queries and
// pushes scan events over a server-sent-event channel.
package sandbox

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Response codes used by the simulator
const (
	CodeApproved      = "00"
	CodePending       = "09"
	CodeLimitExceeded = "14"
	CodeNotFound      = "25"
	CodeFormatError   = "30"
	CodeRejected      = "51"
)

type paymentStatus int

const (
	statusPending paymentStatus = iota
	statusPaid
	statusDeclined
	statusExpired
)

var ErrUnknownReference = errors.New("unknown retrieval reference")

type Config struct {
	APIKey            string
	ProjectID         string
	ChannelTimeout    time.Duration
	HeartbeatInterval time.Duration
	// DeclineAbove rejects larger amounts with CodeLimitExceeded; zero
	// disables the limit.
	DeclineAbove decimal.Decimal
}

type channelMessage struct {
	Message      string `json:"message"`
	ResponseCode string `json:"responseCode,omitempty"`
}

type payment struct {
	ref           string
	transactionID string
	amount        decimal.Decimal
	status        paymentStatus
	responseCode  string
	createdAt     time.Time
	listeners     map[chan channelMessage]struct{}
}

// Gateway is an in-memory payment gateway.
type Gateway struct {
	cfg    Config
	logger *zap.Logger
	router *mux.Router

	mu       sync.Mutex
	payments map[string]*payment
}

func New(cfg Config, logger *zap.Logger) *Gateway {
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 120 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gateway{cfg: cfg, logger: logger, payments: make(map[string]*payment)}

	r := mux.NewRouter()
	api := r.PathPrefix("/payments").Subrouter()
	api.Use(g.authMiddleware)
	api.HandleFunc("/request", g.requestHandler).Methods(http.MethodPost)
	api.HandleFunc("/query", g.queryHandler).Methods(http.MethodPost)
	api.HandleFunc("/webhook", g.webhookHandler).Methods(http.MethodGet)

	ctl := r.PathPrefix("/sandbox/{ref}").Subrouter()
	ctl.HandleFunc("/pay", g.controlHandler(g.Pay)).Methods(http.MethodPost)
	ctl.HandleFunc("/decline", g.controlHandler(func(ref string) error { return g.Decline(ref, CodeRejected) })).Methods(http.MethodPost)
	ctl.HandleFunc("/timeout", g.controlHandler(g.Timeout)).Methods(http.MethodPost)
	r.HandleFunc("/sandbox/payments", g.listHandler).Methods(http.MethodGet)

	g.router = r
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.APIKey != "" && r.Header.Get("api-key") != g.cfg.APIKey ||
			g.cfg.ProjectID != "" && r.Header.Get("project-id") != g.cfg.ProjectID {
			g.logger.Warn("rejected request with bad credentials", zap.String("path", r.URL.Path))
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// issue registers a new pending payment and renders its QR code.
func (g *Gateway) issue(transactionID string, amount decimal.Decimal) (*payment, string, error) {
	ref := uuid.NewString()
	content := fmt.Sprintf("qrpay://pay?ref=%s&amount=%s", ref, amount.StringFixed(2))
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return nil, "", err
	}

	p := &payment{
		ref:           ref,
		transactionID: transactionID,
		amount:        amount,
		status:        statusPending,
		createdAt:     time.Now(),
		listeners:     make(map[chan channelMessage]struct{}),
	}
	g.mu.Lock()
	g.payments[ref] = p
	g.mu.Unlock()

	return p, base64.StdEncoding.EncodeToString(png), nil
}

// Pay marks the payment as scanned and approved.
func (g *Gateway) Pay(ref string) error {
	return g.settle(ref, statusPaid, CodeApproved)
}

// Decline marks the payment as scanned and rejected with code.
func (g *Gateway) Decline(ref, code string) error {
	return g.settle(ref, statusDeclined, code)
}

func (g *Gateway) settle(ref string, status paymentStatus, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[ref]
	if !ok {
		return ErrUnknownReference
	}
	if p.status != statusPending {
		return fmt.Errorf("payment %s is no longer pending", ref)
	}
	p.status = status
	p.responseCode = code
	g.notifyLocked(p, channelMessage{Message: "QR code scanned", ResponseCode: code})
	g.logger.Info("payment settled", zap.String("retrieval_ref", ref), zap.String("response_code", code))
	return nil
}

// Timeout ends every open push channel of the payment with a timeout message.
func (g *Gateway) Timeout(ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[ref]
	if !ok {
		return ErrUnknownReference
	}
	g.notifyLocked(p, channelMessage{Message: "Timeout"})
	return nil
}

func (g *Gateway) notifyLocked(p *payment, msg channelMessage) {
	for ch := range p.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
}

// References lists issued retrieval references, newest last.
func (g *Gateway) References() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	refs := make([]string, 0, len(g.payments))
	for ref := range g.payments {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		return g.payments[refs[i]].createdAt.Before(g.payments[refs[j]].createdAt)
	})
	return refs
}

func (g *Gateway) subscribe(ref string) (chan channelMessage, *payment, func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[ref]
	if !ok {
		return nil, nil, nil, ErrUnknownReference
	}
	ch := make(chan channelMessage, 1)
	p.listeners[ch] = struct{}{}

	// already settled before the channel opened
	switch p.status {
	case statusPaid, statusDeclined:
		ch <- channelMessage{Message: "QR code scanned", ResponseCode: p.responseCode}
	}

	unsubscribe := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(p.listeners, ch)
	}
	return ch, p, unsubscribe, nil
}
