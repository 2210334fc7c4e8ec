package strategy

import (
	"context"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/supervisor"
)

// ScaffoldProjectStrategy implements the legacy path: a throwaway
// Xcode project wrapping the unit test bundle, generated by the
// injected collaborator, then built and run with `xcodebuild test`.
// Only unit tests below the configuration-document cutoff select this
// strategy (§4.1); UI tests have no legacy path.
type ScaffoldProjectStrategy struct {
	Generator ScaffoldProjectGenerator
}

func (s ScaffoldProjectStrategy) BuildRunSpec(ctx context.Context, in Input) (supervisor.RunSpec, error) {
	projectPath, err := s.Generator.GenerateProject(ctx, in, in.WorkspaceDir)
	if err != nil {
		return supervisor.RunSpec{}, err
	}

	spec := runSpecBase(in)
	spec.Command = []string{
		"xcodebuild", "test",
		"-project", projectPath,
		"-scheme", "ScaffoldTests",
		"-destination", "id=" + in.DeviceID,
	}
	return spec, nil
}
