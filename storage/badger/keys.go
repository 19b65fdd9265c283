package badger

import (
	"fmt"

	"github.com/poiesic/finpipe/core"
)

// Key prefixes for different data types
const (
	runRecordPrefix  = "runrec"
	checkpointPrefix = "chkpt"
	outcomePrefix    = "outcm"
)

// makeRunKey generates a key for a run record by run id.
func makeRunKey(runID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", runRecordPrefix, runID))
}

// makeCheckpointKey generates a key for a run's checkpoint.
func makeCheckpointKey(runID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", checkpointPrefix, runID))
}

// makeOutcomeKey generates a composite key for a write outcome.
// Format: prefix:runID:fingerprint
func makeOutcomeKey(runID string, fingerprint core.Fingerprint) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", outcomePrefix, runID, fingerprint))
}

// makeOutcomeScanPrefix generates the iteration prefix covering every
// outcome of one run.
func makeOutcomeScanPrefix(runID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", outcomePrefix, runID))
}
