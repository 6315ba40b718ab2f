package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// ComputeRazorpaySignature returns the hex HMAC-SHA256 of payload.
func ComputeRazorpaySignature(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRazorpayPaymentSignature checks a checkout signature computed over
// "<order or subscription id>|<payment id>".
func VerifyRazorpayPaymentSignature(orderOrSubscriptionID, paymentID, signature, secret string) bool {
	id := strings.TrimSpace(orderOrSubscriptionID)
	pid := strings.TrimSpace(paymentID)
	if id == "" || pid == "" {
		return false
	}
	return verifyHexSignature([]byte(id+"|"+pid), signature, secret)
}

// VerifyRazorpaySubscriptionSignature also accepts the "<payment id>|<subscription id>"
// ordering Razorpay uses for subscription checkouts.
func VerifyRazorpaySubscriptionSignature(subscriptionID, paymentID, signature, secret string) bool {
	if VerifyRazorpayPaymentSignature(subscriptionID, paymentID, signature, secret) {
		return true
	}
	sid := strings.TrimSpace(subscriptionID)
	pid := strings.TrimSpace(paymentID)
	if sid == "" || pid == "" {
		return false
	}
	return verifyHexSignature([]byte(pid+"|"+sid), signature, secret)
}

// VerifyRazorpaySubscriptionFallback checks a signature computed over the
// payment id alone.
func VerifyRazorpaySubscriptionFallback(paymentID, signature, secret string) bool {
	pid := strings.TrimSpace(paymentID)
	if pid == "" {
		return false
	}
	return verifyHexSignature([]byte(pid), signature, secret)
}

// VerifyRazorpayWebhookSignature checks X-Razorpay-Signature against the raw
// request body.
func VerifyRazorpayWebhookSignature(body []byte, signatureHeader, webhookSecret string) bool {
	return verifyHexSignature(body, signatureHeader, webhookSecret)
}

func verifyHexSignature(payload []byte, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	key := strings.TrimSpace(secret)
	if sig == "" || key == "" {
		return false
	}
	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decodedSig, []byte(key), sha256.New)
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
