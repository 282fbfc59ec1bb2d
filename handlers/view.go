package handlers

import (
	"qrpay/services"
	"qrpay/templates"
	"qrpay/templates/pos"
)

// newPaymentView maps a transaction snapshot to what the fragments render.
func newPaymentView(txn services.Transaction, websiteName string) templates.PaymentView {
	view := templates.PaymentView{
		TransactionID:      txn.TransactionID,
		RetrievalReference: txn.RetrievalReference,
		QRImageBase64:      txn.QRImageBase64,
		State:              txn.State.String(),
		Message:            txn.Message,
		ResponseCode:       txn.ResponseCode,
		RemainingSeconds:   txn.RemainingSeconds,
		TotalSeconds:       txn.TotalSeconds,
		Resumed:            txn.Resumed,
		WebsiteName:        websiteName,
	}
	if !txn.Amount.IsZero() {
		view.Amount = pos.FormatAmount(txn.Amount)
	}
	return view
}
