package device

import (
	"context"
	"os/exec"
	"strings"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
)

// XctraceLister implements RealDeviceLister by shelling out to
// `xcrun xctrace list devices`, which prints one attached device per
// line as "Name (OS Version) (UDID)". This is the thin, intentionally
// shallow adapter §1 scopes out of the core: it only extracts enough
// to resolve an identity, not full device capability data.
type XctraceLister struct{}

func (XctraceLister) ListRealDevices(ctx context.Context) ([]RealDevice, error) {
	out, err := exec.CommandContext(ctx, "xcrun", "xctrace", "list", "devices").CombinedOutput()
	if err != nil {
		return nil, err
	}
	return parseXctraceDevices(string(out)), nil
}

func parseXctraceDevices(out string) []RealDevice {
	var devices []RealDevice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		openParen := strings.LastIndex(line, "(")
		closeParen := strings.LastIndex(line, ")")
		if openParen < 0 || closeParen < openParen {
			continue
		}
		udid := line[openParen+1 : closeParen]
		if !looksLikeUDID(udid) {
			continue
		}
		name := strings.TrimSpace(line[:strings.Index(line, "(")])
		devices = append(devices, RealDevice{
			UDID: udid,
			Name: name,
			// Modern physical iOS hardware is arm64/arm64e; this
			// adapter does not extract the precise variant (that is
			// the out-of-scope Mach-O inspection named in §1/§6), so
			// it defaults to the common case.
			Arch: iosenum.ArchARM64,
		})
	}
	return devices
}

func looksLikeUDID(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F' || r >= 'a' && r <= 'f' || r == '-') {
			return false
		}
	}
	return true
}
