package templates

// Payment states as rendered by the fragments.
const (
	StateIdle       = "idle"
	StateRequesting = "requesting"
	StateDisplaying = "displaying"
	StateQuerying   = "querying"
	StateSucceeded  = "succeeded"
	StateDeclined   = "declined"
	StateCancelled  = "cancelled"
)

// PaymentView carries everything a payment fragment displays
type PaymentView struct {
	TransactionID      string
	RetrievalReference string
	Amount             string // already formatted, e.g. "3.00"
	QRImageBase64      string
	State              string
	Message            string
	ResponseCode       string
	RemainingSeconds   int
	TotalSeconds       int
	Resumed            bool

	WebsiteName string
}

// ProgressWidth is the elapsed share of the countdown, in percent.
func (v PaymentView) ProgressWidth() float64 {
	if v.TotalSeconds <= 0 {
		return 0
	}
	elapsed := float64(v.TotalSeconds-v.RemainingSeconds) / float64(v.TotalSeconds) * 100
	if elapsed < 0 {
		return 0
	}
	if elapsed > 100 {
		return 100
	}
	return elapsed
}

// Terminal reports whether the view shows a final outcome.
func (v PaymentView) Terminal() bool {
	switch v.State {
	case StateSucceeded, StateDeclined, StateCancelled:
		return true
	}
	return false
}
