package strategy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/supervisor"
)

func toSeconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// ConfigDocumentStrategy implements the modern-toolchain path: render
// an xctestrun document via the injected writer, then invoke
// xcodebuild against it. This is the path for unit and UI tests under
// a toolchain at or above the configuration-document cutoff.
type ConfigDocumentStrategy struct {
	Writer ConfigDocumentWriter
}

func (s ConfigDocumentStrategy) BuildRunSpec(ctx context.Context, in Input) (supervisor.RunSpec, error) {
	return buildConfigDocumentRunSpec(ctx, s.Writer, in)
}

func buildConfigDocumentRunSpec(ctx context.Context, writer ConfigDocumentWriter, in Input) (supervisor.RunSpec, error) {
	docPath := in.XCTestRunPath
	if docPath == "" {
		docPath = filepath.Join(in.WorkspaceDir, "generated.xctestrun")
		if err := writer.WriteXCTestRunDocument(ctx, in, docPath); err != nil {
			return supervisor.RunSpec{}, err
		}
	}

	spec := runSpecBase(in)
	spec.Command = []string{
		"xcodebuild", "test-without-building",
		"-xctestrun", docPath,
		"-destination", "id=" + in.DeviceID,
	}
	if len(in.Launch.TestsToRun) > 0 {
		for _, t := range in.Launch.TestsToRun {
			spec.Command = append(spec.Command, "-only-testing:"+t)
		}
	}
	for _, t := range in.Launch.SkipTests {
		spec.Command = append(spec.Command, "-skip-testing:"+t)
	}
	return spec, nil
}
