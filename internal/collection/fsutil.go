package collection

import (
	"go.uber.org/zap"

	"github.com/nilotpal/vortexdb/internal/fsx"
)

// discardStaleBuildDir removes a leftover building/ directory from a prior
// crash. Close always seals and dumps the active segment before returning,
// so a clean shutdown never leaves building/ behind; anything found here is
// debris from a process that died before reaching Close, and is simpler
// and safer to discard than to attempt to replay (spec §4.8 leaves
// WRITING-segment crash recovery undefined).
func discardStaleBuildDir(buildDir string, log *zap.SugaredLogger) error {
	if !fsx.Exists(buildDir) {
		return nil
	}
	log.Warnw("discarding stale building segment directory from a prior run", "dir", buildDir)
	return fsx.RemoveAll(buildDir)
}
