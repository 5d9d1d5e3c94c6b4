package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/swrcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery     uint64
	ReadDegradedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr     atomic.Uint64
	readDegradedCtr atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("swrcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) StoreReadDegraded(storageKey string, err error) {
	if h.l == nil || !sample(h.opts.ReadDegradedEvery, &h.readDegradedCtr) {
		return
	}
	h.l.Warn("swrcache.store_read_degraded",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) StoreSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.store_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) RefreshScheduled(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swrcache.refresh_scheduled",
		"key", h.redact(storageKey))
}

func (h *Hooks) RefreshError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.refresh_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenerationTimedOut(storageKey string, limit time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Error("swrcache.generation_timeout",
		"key", h.redact(storageKey),
		"limit", limit)
}
