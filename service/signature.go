package service

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
)

// ComputeSignature returns hex(sha1(callbackID + signKey)), the digest the
// provider puts in the signature field of each delivery
func ComputeSignature(callbackID, signKey string) string {
	sum := sha1.Sum([]byte(callbackID + signKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a delivery signature. With no sign key configured
// verification is skipped and a warning logged.
func VerifySignature(ctx context.Context, callbackID, signature, signKey string) bool {
	if signKey == "" {
		logger.Warn(ctx, "webhook sign key not configured, skipping signature verification")
		return true
	}
	if callbackID == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(callbackID, signKey)
	got := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
