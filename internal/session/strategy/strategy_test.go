package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
)

func TestSelectHostlessLogicTestOnSimulatorIsDirectSpawn(t *testing.T) {
	kind, err := Select(iosenum.HostlessUnitTest, iosenum.Simulator, 1523)
	require.NoError(t, err)
	assert.Equal(t, DirectSpawn, kind)
}

func TestSelectHostlessLogicTestOnRealDeviceIsIllegalArgument(t *testing.T) {
	_, err := Select(iosenum.HostlessUnitTest, iosenum.RealDevice, 1523)
	var agentErr *agenterr.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, agenterr.IllegalArgument, agentErr.Code)
}

func TestSelectUITestOnLegacyToolchainIsIllegalArgument(t *testing.T) {
	_, err := Select(iosenum.UITest, iosenum.Simulator, 1000)
	var agentErr *agenterr.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, agenterr.IllegalArgument, agentErr.Code)
}

func TestSelectUITestOnModernToolchainIsConfigurationDocument(t *testing.T) {
	kind, err := Select(iosenum.UITest, iosenum.Simulator, 1523)
	require.NoError(t, err)
	assert.Equal(t, ConfigurationDocument, kind)
}

func TestSelectUnitTestOnLegacyToolchainIsScaffoldingProject(t *testing.T) {
	kind, err := Select(iosenum.UnitTest, iosenum.Simulator, 1000)
	require.NoError(t, err)
	assert.Equal(t, ScaffoldingProject, kind)
}

func TestSelectUnitTestOnModernToolchainIsConfigurationDocument(t *testing.T) {
	kind, err := Select(iosenum.UnitTest, iosenum.RealDevice, 1523)
	require.NoError(t, err)
	assert.Equal(t, ConfigurationDocument, kind)
}

type fakeDocWriter struct {
	path string
	err  error
}

func (f *fakeDocWriter) WriteXCTestRunDocument(ctx context.Context, in Input, destPath string) error {
	f.path = destPath
	return f.err
}

func TestConfigDocumentStrategyGeneratesDocumentWhenNoneSupplied(t *testing.T) {
	writer := &fakeDocWriter{}
	strat := ConfigDocumentStrategy{Writer: writer}
	spec, err := strat.BuildRunSpec(context.Background(), Input{
		WorkspaceDir: "/tmp/ws",
		DeviceID:     "ABCD-1234",
		Platform:     iosenum.Simulator,
		TestType:     iosenum.UnitTest,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, writer.path)
	assert.Contains(t, spec.Command, "-xctestrun")
	assert.Contains(t, spec.Command, "id=ABCD-1234")
}

func TestConfigDocumentStrategySkipsGenerationWhenXCTestRunPathSupplied(t *testing.T) {
	writer := &fakeDocWriter{}
	strat := ConfigDocumentStrategy{Writer: writer}
	spec, err := strat.BuildRunSpec(context.Background(), Input{
		DeviceID:      "ABCD-1234",
		XCTestRunPath: "/tmp/existing.xctestrun",
	})
	require.NoError(t, err)
	assert.Empty(t, writer.path)
	assert.Contains(t, spec.Command, "/tmp/existing.xctestrun")
}

type fakeScaffoldGenerator struct {
	projectPath string
	err         error
}

func (f *fakeScaffoldGenerator) GenerateProject(ctx context.Context, in Input, destDir string) (string, error) {
	return f.projectPath, f.err
}

func TestScaffoldProjectStrategyBuildsXcodebuildTestCommand(t *testing.T) {
	strat := ScaffoldProjectStrategy{Generator: &fakeScaffoldGenerator{projectPath: "/tmp/ws/Scaffold.xcodeproj"}}
	spec, err := strat.BuildRunSpec(context.Background(), Input{DeviceID: "ABCD-1234"})
	require.NoError(t, err)
	assert.Contains(t, spec.Command, "/tmp/ws/Scaffold.xcodeproj")
	assert.Contains(t, spec.Command, "test")
}

func TestDirectSpawnStrategyBuildsSimctlSpawnCommand(t *testing.T) {
	spec, err := DirectSpawnStrategy{}.BuildRunSpec(context.Background(), Input{
		DeviceID:       "ABCD-1234",
		TestBundlePath: "/tmp/ws/Logic.xctest",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"xcrun", "simctl", "spawn", "ABCD-1234", "xctest", "/tmp/ws/Logic.xctest"}, spec.Command)
}
