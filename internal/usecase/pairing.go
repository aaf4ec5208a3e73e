package usecase

import (
	"context"
	"strings"
	"time"

	"pairbot/internal/domain"
)

const pairingGroupSize = 4

type readySignaler interface {
	Ready() <-chan struct{}
}

type pairingClient interface {
	RequestPairingCode(ctx context.Context, phone string) (string, error)
}

// AwaitOpen waits until conn signals transport readiness, the timeout elapses,
// or ctx ends. It always returns; the result reports whether readiness was seen.
func AwaitOpen(ctx context.Context, conn readySignaler, timeout time.Duration) bool {
	ready := conn.Ready()
	select {
	case <-ready:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// RequestCode asks the protocol client for a pairing code and formats it for display.
func RequestCode(ctx context.Context, client pairingClient, phone domain.Phone) (string, error) {
	raw, err := client.RequestPairingCode(ctx, string(phone))
	if err != nil {
		return "", &PairingRequestError{Err: err}
	}
	return FormatPairingCode(raw), nil
}

// FormatPairingCode groups raw into hyphen-joined chunks of four characters.
// Codes that already carry separators are regrouped.
func FormatPairingCode(raw string) string {
	runes := []rune(strings.ReplaceAll(raw, "-", ""))
	if len(runes) == 0 {
		return raw
	}
	groups := make([]string, 0, (len(runes)+pairingGroupSize-1)/pairingGroupSize)
	for start := 0; start < len(runes); start += pairingGroupSize {
		end := min(start+pairingGroupSize, len(runes))
		groups = append(groups, string(runes[start:end]))
	}
	return strings.Join(groups, "-")
}
