package strategy

import (
	"context"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/supervisor"
)

// DirectSpawnStrategy implements the hostless-logic-test path: no app
// under test and no harness, just the xctest binary spawned directly
// inside the target simulator. Select rejects this strategy outright
// for a real-device target (§4.1).
type DirectSpawnStrategy struct{}

func (DirectSpawnStrategy) BuildRunSpec(ctx context.Context, in Input) (supervisor.RunSpec, error) {
	spec := runSpecBase(in)
	spec.Command = []string{
		"xcrun", "simctl", "spawn", in.DeviceID,
		"xctest", in.TestBundlePath,
	}
	return spec, nil
}
