package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/vantagestack/vantage-intel/internal/models"
)

// Fingerprint derives a deterministic cache key from the normalized request
// parameters. Identical logical requests always hash identically: fields are
// trimmed and lower-cased, worker names are deduplicated and sorted, and the
// embedding is deliberately excluded (it does not change the logical request).
func Fingerprint(req models.AnalysisRequest) string {
	workers := make([]string, 0, len(req.Workers))
	seen := make(map[string]struct{}, len(req.Workers))
	for _, w := range req.Workers {
		name := strings.ToLower(strings.TrimSpace(w))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		workers = append(workers, name)
	}
	sort.Strings(workers)

	h := sha256.New()
	h.Write([]byte("analysis/v1\n"))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(req.SubjectID)) + "\n"))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(req.Scope)) + "\n"))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(req.Depth)) + "\n"))
	h.Write([]byte(strings.Join(workers, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
