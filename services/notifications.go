package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"qrpay/config"
	"qrpay/utils"
)

// Messages recognized on the gateway push channel
const (
	MessageConfirmed = "QR code scanned"
	MessageTimeout   = "Timeout"
)

// NotificationKind classifies a push-channel event.
type NotificationKind string

const (
	NotificationConfirmed NotificationKind = "confirmed"
	// NotificationRejected is a scan report carrying a non-approved code.
	NotificationRejected NotificationKind = "rejected"
)

// Notification is a payment event delivered over the push channel.
type Notification struct {
	Kind         NotificationKind
	ResponseCode string
}

type channelMessage struct {
	Message      string `json:"message"`
	ResponseCode string `json:"responseCode"`
}

// Subscription is a handle on one open push channel.
type Subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	ctx    context.Context
}

func newSubscription(parent context.Context) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{ctx: ctx, cancel: cancel}
}

// Unsubscribe closes the channel. It is safe to call any number of times, from
// any goroutine, including from inside a callback.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Active reports whether the subscription is still open.
func (s *Subscription) Active() bool {
	return s != nil && s.ctx.Err() == nil
}

// Subscriber opens server-sent-event streams on the gateway webhook endpoint.
type Subscriber struct {
	client           *resty.Client
	approvedCode     string
	heartbeatTimeout time.Duration
}

// NewSubscriber builds a subscriber. The stream client has no overall timeout;
// heartbeatTimeout bounds the silence between two lines instead.
func NewSubscriber(cfg config.Gateway, heartbeatTimeout time.Duration) *Subscriber {
	approved := cfg.ApprovedCode
	if approved == "" {
		approved = DefaultApprovedCode
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	if cfg.ProjectID != "" {
		client.SetHeader("project-id", cfg.ProjectID)
	}

	return &Subscriber{client: client, approvedCode: approved, heartbeatTimeout: heartbeatTimeout}
}

// Subscribe opens the push channel for retrievalReference in the background.
// onEvent receives payment notifications; onStreamTimeout is called when the
// gateway reports a channel timeout, the heartbeat goes silent or the stream
// drops. At most one of a confirmation or a timeout is delivered, after which
// the stream is closed.
func (s *Subscriber) Subscribe(retrievalReference string, onEvent func(Notification), onStreamTimeout func()) *Subscription {
	sub := newSubscription(context.Background())
	go s.listen(sub, retrievalReference, onEvent, onStreamTimeout)
	return sub
}

func (s *Subscriber) listen(sub *Subscription, ref string, onEvent func(Notification), onStreamTimeout func()) {
	defer sub.Unsubscribe()

	confirmed := false
	err := s.stream(sub.ctx, ref, func(n Notification) bool {
		if !sub.Active() {
			return false
		}
		if onEvent != nil {
			onEvent(n)
		}
		confirmed = n.Kind == NotificationConfirmed
		return !confirmed
	})

	if confirmed || !sub.Active() {
		return
	}
	if err != nil {
		utils.Warn("sse", "Payment channel closed", "retrieval_ref", ref, "error", err)
	}
	if onStreamTimeout != nil {
		onStreamTimeout()
	}
}

var errChannelTimeout = errors.New("gateway reported channel timeout")

// stream reads the channel until deliver returns false (nil error), the
// gateway reports a timeout, the heartbeat lapses or the connection fails.
func (s *Subscriber) stream(ctx context.Context, ref string, deliver func(Notification) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("retrievalRef", ref).
		Get(webhookPath)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("connect: gateway returned %s", resp.Status())
	}
	utils.Debug("sse", "Payment channel open", "retrieval_ref", ref)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readLines(ctx, body, lines)
	}()

	var heartbeat *time.Timer
	var heartbeatC <-chan time.Time
	if s.heartbeatTimeout > 0 {
		heartbeat = time.NewTimer(s.heartbeatTimeout)
		defer heartbeat.Stop()
		heartbeatC = heartbeat.C
	}

	var data []string
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err == nil {
				err = io.EOF
			}
			return fmt.Errorf("stream: %w", err)
		case <-heartbeatC:
			return fmt.Errorf("no heartbeat for %s", s.heartbeatTimeout)
		case line := <-lines:
			if heartbeat != nil {
				if !heartbeat.Stop() {
					select {
					case <-heartbeat.C:
					default:
					}
				}
				heartbeat.Reset(s.heartbeatTimeout)
			}

			switch {
			case line == "":
				if len(data) == 0 {
					continue
				}
				payload := strings.Join(data, "\n")
				data = data[:0]

				n, timeout, ok := s.decode(payload)
				if timeout {
					return errChannelTimeout
				}
				if ok && !deliver(n) {
					return nil
				}
			case strings.HasPrefix(line, ":"):
				// heartbeat comment
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
	}
}

// decode interprets one event payload.
func (s *Subscriber) decode(payload string) (n Notification, timeout bool, ok bool) {
	var msg channelMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		utils.Warn("sse", "Ignoring undecodable payment event", "payload", payload, "error", err)
		return Notification{}, false, false
	}

	switch msg.Message {
	case MessageTimeout:
		return Notification{}, true, false
	case MessageConfirmed:
		if msg.ResponseCode == s.approvedCode {
			return Notification{Kind: NotificationConfirmed, ResponseCode: msg.ResponseCode}, false, true
		}
		return Notification{Kind: NotificationRejected, ResponseCode: msg.ResponseCode}, false, true
	default:
		utils.Debug("sse", "Ignoring unrecognized payment event", "message", msg.Message)
		return Notification{}, false, false
	}
}

func readLines(ctx context.Context, r io.Reader, lines chan<- string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- strings.TrimRight(scanner.Text(), "\r"):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}
