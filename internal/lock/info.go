package lock

import (
	"os"
	"sort"
	"strings"
	"time"
)

// Info describes one lock record for inspection. Corrupt records appear
// with zero timestamps and Stale set.
type Info struct {
	Name        string
	HolderID    string
	AcquiredAt  time.Time
	HeartbeatAt time.Time
	Stale       bool
}

// List returns the lock records under the manager's directory, ordered by
// name. Listing never heals; it only reports.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")

		rec, err := m.readRecord(name)
		if err != nil {
			infos = append(infos, Info{Name: name, Stale: true})
			continue
		}
		infos = append(infos, Info{
			Name:        rec.Name,
			HolderID:    rec.HolderID,
			AcquiredAt:  rec.AcquiredAt,
			HeartbeatAt: rec.HeartbeatAt,
			Stale:       time.Since(rec.HeartbeatAt) >= m.StaleAfter,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
