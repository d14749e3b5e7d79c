package artifacts

import (
	"os"
	"regexp"
	"strings"

	"github.com/stillwater-dev/foreman/internal/util"
)

// BacklogFile is the tracked index of features eligible for orchestration.
// Each unchecked checkbox line is one pending feature id:
//
//	- [ ] FEAT-101
//	- [x] FEAT-100   (already integrated)
const BacklogFile = "backlog.md"

var backlogEntryRe = regexp.MustCompile(`^\s*[-*] \[([ xX])\]\s+(\S+)`)

// PendingFeatures parses the backlog index and returns the ids of all
// unchecked entries, in file order. A missing backlog means no eligible
// work, not an error.
func PendingFeatures(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		m := backlogEntryRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[1] == " " {
			ids = append(ids, m[2])
		}
	}
	return ids, nil
}

// CheckOffFeature marks a feature's backlog entry as done. No-op when the
// entry is absent or already checked; the backlog is operator-owned and
// foreman only flips the one structural marker.
func CheckOffFeature(path, featureID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	lines := strings.Split(string(data), "\n")
	changed := false
	for i, line := range lines {
		m := backlogEntryRe.FindStringSubmatch(line)
		if m == nil || m[2] != featureID || m[1] != " " {
			continue
		}
		lines[i] = strings.Replace(line, "[ ]", "[x]", 1)
		changed = true
	}
	if !changed {
		return nil
	}
	return util.AtomicWriteFile(path, []byte(strings.Join(lines, "\n")), 0644)
}
