package pipeline

// Outcome classifies how a stage finished.
type Outcome int

const (
	// OutcomeOK means the stage produced its artifact.
	OutcomeOK Outcome = iota
	// OutcomeSoftFail means the stage failed but the job continues with a
	// degraded artifact (an empty transcript, a missing archive URL).
	OutcomeSoftFail
	// OutcomeHardFail means the job cannot proceed and enters Failed.
	OutcomeHardFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSoftFail:
		return "soft_fail"
	case OutcomeHardFail:
		return "hard_fail"
	default:
		return "unknown"
	}
}

// StageResult is the tagged result the state machine driver consumes after
// each stage. Reason is a short stable token recorded on Failed jobs and
// in transition logs; Err carries the underlying cause for logging.
type StageResult struct {
	Outcome Outcome
	Reason  string
	Err     error
}

// Ok returns a successful StageResult.
func Ok() StageResult {
	return StageResult{Outcome: OutcomeOK}
}

// SoftFail returns a StageResult that degrades the job without failing it.
func SoftFail(reason string, err error) StageResult {
	return StageResult{Outcome: OutcomeSoftFail, Reason: reason, Err: err}
}

// HardFail returns a StageResult that moves the job to Failed.
func HardFail(reason string, err error) StageResult {
	return StageResult{Outcome: OutcomeHardFail, Reason: reason, Err: err}
}
