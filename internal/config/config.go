// Package config holds the single scheduler/tuning configuration struct
// shared by every TORC worker (spec.md §6).
package config

import (
	"os"
	"strconv"
	"time"
)

// SchedulerConfig is the recognized set of tuning knobs. Default() returns
// it with every field set to its documented default; FromEnv overlays
// environment variables on top of that.
type SchedulerConfig struct {
	RecoveryTickInterval      time.Duration
	StuckScanInterval         time.Duration
	DLQSampleInterval         time.Duration
	ReconciliationInterval    time.Duration
	RecoveryMaxRetries        int
	RecoveryBackoffCapMinutes int
	ReconciliationBatchSize   int
	ReconciliationMaxBatch    int
	QuorumPercentage          int
	FeeBasisPoints            int64
}

// Default returns the documented defaults (spec.md §6).
func Default() SchedulerConfig {
	return SchedulerConfig{
		RecoveryTickInterval:      30 * time.Second,
		StuckScanInterval:         5 * time.Minute,
		DLQSampleInterval:         10 * time.Minute,
		ReconciliationInterval:    6 * time.Hour,
		RecoveryMaxRetries:        5,
		RecoveryBackoffCapMinutes: 60,
		ReconciliationBatchSize:   50,
		ReconciliationMaxBatch:    200,
		QuorumPercentage:          51,
		FeeBasisPoints:            50,
	}
}

// FromEnv overlays environment variables onto the defaults, following the
// teacher's getEnv(key, fallback) pattern duplicated across every cmd entrypoint.
func FromEnv() SchedulerConfig {
	c := Default()
	c.RecoveryTickInterval = getDuration("TORC_RECOVERY_TICK_INTERVAL", c.RecoveryTickInterval)
	c.StuckScanInterval = getDuration("TORC_STUCK_SCAN_INTERVAL", c.StuckScanInterval)
	c.DLQSampleInterval = getDuration("TORC_DLQ_SAMPLE_INTERVAL", c.DLQSampleInterval)
	c.ReconciliationInterval = getDuration("TORC_RECONCILIATION_INTERVAL", c.ReconciliationInterval)
	c.RecoveryMaxRetries = getInt("TORC_RECOVERY_MAX_RETRIES", c.RecoveryMaxRetries)
	c.RecoveryBackoffCapMinutes = getInt("TORC_RECOVERY_BACKOFF_CAP_MINUTES", c.RecoveryBackoffCapMinutes)
	c.ReconciliationBatchSize = getInt("TORC_RECONCILIATION_BATCH_SIZE", c.ReconciliationBatchSize)
	c.QuorumPercentage = getInt("TORC_QUORUM_PERCENTAGE", c.QuorumPercentage)
	c.FeeBasisPoints = int64(getInt("TORC_FEE_BASIS_POINTS", int(c.FeeBasisPoints)))
	return c
}

// clampBatch maps a non-positive n to ReconciliationBatchSize and caps n at
// ReconciliationMaxBatch.
func (c SchedulerConfig) clampBatch(n int) int {
	if n <= 0 {
		return c.ReconciliationBatchSize
	}
	if n > c.ReconciliationMaxBatch {
		return c.ReconciliationMaxBatch
	}
	return n
}

// ClampBatchSize applies the default/max clamp to a caller-requested batch
// size (spec.md §4.5: "default 50, max 200").
func (c SchedulerConfig) ClampBatchSize(requested int) int {
	return c.clampBatch(requested)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
