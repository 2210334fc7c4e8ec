package supervisor

import "os"

// mergeWithProcessEnv appends the current process environment, skipping
// any variable already present in overlay so the overlay always wins.
func mergeWithProcessEnv(overlay []string, overridden map[string]bool) []string {
	merged := append([]string{}, overlay...)
	for _, kv := range os.Environ() {
		key := kv
		for i, r := range kv {
			if r == '=' {
				key = kv[:i]
				break
			}
		}
		if overridden[key] {
			continue
		}
		merged = append(merged, kv)
	}
	return merged
}

func removeDirBestEffort(path string) {
	_ = os.RemoveAll(path)
}
