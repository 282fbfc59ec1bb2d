package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type requestBody struct {
	TransactionID   string      `json:"transactionId"`
	AmountInDollars json.Number `json:"amountInDollars"`
	NotifyMobile    string      `json:"notifyMobile"`
}

type requestResponse struct {
	ResponseCode       string `json:"responseCode"`
	TransactionStatus  int    `json:"transactionStatus"`
	QRCodeBase64       string `json:"qrCodeBase64,omitempty"`
	RetrievalReference string `json:"retrievalReference,omitempty"`
	NetworkStatus      int    `json:"networkStatus"`
	Instruction        string `json:"instruction,omitempty"`
}

type queryBody struct {
	RetrievalReference    string `json:"retrievalReference"`
	FrontendTimeoutStatus int    `json:"frontendTimeoutStatus"`
}

type queryResponse struct {
	ResponseCode      string `json:"responseCode"`
	TransactionStatus int    `json:"transactionStatus"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (g *Gateway) requestHandler(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		respondWithJSON(w, http.StatusBadRequest, requestResponse{ResponseCode: CodeFormatError, Instruction: "Malformed request"})
		return
	}

	amount, err := decimal.NewFromString(body.AmountInDollars.String())
	if err != nil || !amount.IsPositive() || body.TransactionID == "" {
		respondWithJSON(w, http.StatusOK, requestResponse{ResponseCode: CodeFormatError, Instruction: "Invalid amount or transaction id"})
		return
	}

	if !g.cfg.DeclineAbove.IsZero() && amount.GreaterThan(g.cfg.DeclineAbove) {
		g.logger.Info("declining payment over limit", zap.String("txn_id", body.TransactionID), zap.String("amount", amount.StringFixed(2)))
		respondWithJSON(w, http.StatusOK, requestResponse{
			ResponseCode:  CodeLimitExceeded,
			NetworkStatus: 1,
			Instruction:   fmt.Sprintf("QR payments are limited to $%s", g.cfg.DeclineAbove.StringFixed(2)),
		})
		return
	}

	p, qr, err := g.issue(body.TransactionID, amount)
	if err != nil {
		g.logger.Error("cannot generate QR code", zap.Error(err))
		http.Error(w, "cannot generate QR code", http.StatusInternalServerError)
		return
	}

	g.logger.Info("issued QR code", zap.String("txn_id", body.TransactionID), zap.String("retrieval_ref", p.ref))
	respondWithJSON(w, http.StatusOK, requestResponse{
		ResponseCode:       CodeApproved,
		TransactionStatus:  1,
		QRCodeBase64:       qr,
		RetrievalReference: p.ref,
	})
}

func (g *Gateway) queryHandler(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithJSON(w, http.StatusBadRequest, queryResponse{ResponseCode: CodeFormatError})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[body.RetrievalReference]
	if !ok {
		respondWithJSON(w, http.StatusOK, queryResponse{ResponseCode: CodeNotFound})
		return
	}

	// once the terminal has given up, an unpaid code can no longer be paid
	if body.FrontendTimeoutStatus == 1 && p.status == statusPending {
		p.status = statusExpired
	}

	switch p.status {
	case statusPaid:
		respondWithJSON(w, http.StatusOK, queryResponse{ResponseCode: CodeApproved, TransactionStatus: 1})
	case statusDeclined:
		respondWithJSON(w, http.StatusOK, queryResponse{ResponseCode: p.responseCode})
	default:
		respondWithJSON(w, http.StatusOK, queryResponse{ResponseCode: CodePending})
	}
}

func (g *Gateway) webhookHandler(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("retrievalRef")
	events, _, unsubscribe, err := g.subscribe(ref)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(g.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	window := time.NewTimer(g.cfg.ChannelTimeout)
	defer window.Stop()

	send := func(msg channelMessage) {
		data, _ := json.Marshal(msg)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-window.C:
			send(channelMessage{Message: "Timeout"})
			return
		case msg := <-events:
			send(msg)
			if msg.Message == "Timeout" || msg.ResponseCode == CodeApproved {
				return
			}
		}
	}
}

func (g *Gateway) controlHandler(action func(ref string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := mux.Vars(r)["ref"]
		if err := action(ref); err != nil {
			status := http.StatusConflict
			if errors.Is(err, ErrUnknownReference) {
				status = http.StatusNotFound
			}
			respondWithJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "retrievalReference": ref})
	}
}

func (g *Gateway) listHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string][]string{"references": g.References()})
}
