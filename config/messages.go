package config

// PaymentMessages provides consistent user-facing texts per payment state
var PaymentMessages = map[string]map[string]string{
	"qr": {
		"default":    "Waiting for QR code scan...",
		"requesting": "Generating QR code...",
		"querying":   "Confirming payment status with the bank...",
		"succeeded":  "Payment received. Thank you!",
		"cancelled":  "Payment cancelled.",
	},
	"decline": {
		"default":   "Payment could not be completed. Please try again.",
		"transport": "Unable to reach the payment gateway. Please try again.",
		"query":     "Payment could not be confirmed. Please check with the cashier before paying again.",
		"declined":  "Payment was not received before the QR code expired.",
	},
}

// GetPaymentMessage retrieves the appropriate message for a payment type and status
func GetPaymentMessage(paymentType, status string) string {
	if messages, exists := PaymentMessages[paymentType]; exists {
		if message, exists := messages[status]; exists {
			return message
		}
		return messages["default"]
	}
	return "Processing payment..."
}
