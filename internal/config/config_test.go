package config

import (
	"testing"
	"time"
)

func TestFromEnvOverlaysRecognizedVars(t *testing.T) {
	t.Setenv("TORC_RECOVERY_MAX_RETRIES", "7")
	t.Setenv("TORC_RECOVERY_TICK_INTERVAL", "10s")
	t.Setenv("TORC_QUORUM_PERCENTAGE", "66")

	c := FromEnv()
	if c.RecoveryMaxRetries != 7 {
		t.Errorf("RecoveryMaxRetries = %d, want 7", c.RecoveryMaxRetries)
	}
	if c.RecoveryTickInterval != 10*time.Second {
		t.Errorf("RecoveryTickInterval = %s, want 10s", c.RecoveryTickInterval)
	}
	if c.QuorumPercentage != 66 {
		t.Errorf("QuorumPercentage = %d, want 66", c.QuorumPercentage)
	}
	// untouched fields keep their documented default.
	if c.StuckScanInterval != Default().StuckScanInterval {
		t.Errorf("StuckScanInterval should be untouched by overlay")
	}
}

func TestFromEnvFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("TORC_RECOVERY_MAX_RETRIES", "not-a-number")
	t.Setenv("TORC_RECOVERY_TICK_INTERVAL", "not-a-duration")

	c := FromEnv()
	d := Default()
	if c.RecoveryMaxRetries != d.RecoveryMaxRetries {
		t.Errorf("expected fallback to default on malformed int, got %d", c.RecoveryMaxRetries)
	}
	if c.RecoveryTickInterval != d.RecoveryTickInterval {
		t.Errorf("expected fallback to default on malformed duration, got %s", c.RecoveryTickInterval)
	}
}

func TestClampBatchSizeAppliesDefaultAndMax(t *testing.T) {
	c := Default()
	if got := c.ClampBatchSize(0); got != c.ReconciliationBatchSize {
		t.Errorf("ClampBatchSize(0) = %d, want default %d", got, c.ReconciliationBatchSize)
	}
	if got := c.ClampBatchSize(-5); got != c.ReconciliationBatchSize {
		t.Errorf("ClampBatchSize(-5) = %d, want default %d", got, c.ReconciliationBatchSize)
	}
	if got := c.ClampBatchSize(10000); got != c.ReconciliationMaxBatch {
		t.Errorf("ClampBatchSize(10000) = %d, want max %d", got, c.ReconciliationMaxBatch)
	}
	if got := c.ClampBatchSize(100); got != 100 {
		t.Errorf("ClampBatchSize(100) = %d, want 100 unchanged", got)
	}
}
