package recovery

import "github.com/jcmexdev/torc/internal/store"

// stepDone reports whether name appears in stepsCompleted.
func stepDone(stepsCompleted []string, name string) bool {
	for _, s := range stepsCompleted {
		if s == name {
			return true
		}
	}
	return false
}

// Step names shared by the escrow_release and financing_pipeline saga
// programs (spec.md §4.2.1, §4.2.2).
const (
	StepBlockchainTx = "BLOCKCHAIN_TX"
	StepDBUpdate     = "DB_UPDATE"
	StepAuditLog     = "AUDIT_LOG"
	StepLiquidityLeg = "EXTERNAL_LIQUIDITY"
)

// requiresCompensation decides whether a terminally-failed saga needs an
// operator-actioned CompensationAction: true when steps_completed includes
// a step with externally visible side effects that the unfinished steps
// cannot undo by idempotent retry alone (spec.md §4.2.2).
func requiresCompensation(opType store.OperationType, stepsCompleted []string) bool {
	switch opType {
	case store.OpEscrowRelease:
		return stepDone(stepsCompleted, StepBlockchainTx)
	case store.OpFinancingPipeline:
		return stepDone(stepsCompleted, StepLiquidityLeg)
	default:
		return false
	}
}
