package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metahuman-os/cortex/internal/identity"
	"github.com/metahuman-os/cortex/internal/util"
)

// WorkFunc is one work cycle. The model-driven behavior of each agent lives
// in the installation's workflow engine and is injected via Runner.Work;
// the built-ins below keep each agent's file bookkeeping current. All paths
// come from the context scope, never from process-wide state.
type WorkFunc func(ctx context.Context) error

// builtinWork returns the bookkeeping work for a catalog agent.
func builtinWork(name string) WorkFunc {
	switch name {
	case "memory-curator":
		return curateMemory
	case "dream-generator":
		return generateDream
	case "question-asker":
		return askQuestions
	default:
		return func(ctx context.Context) error {
			return fmt.Errorf("agent %q has no built-in work", name)
		}
	}
}

// indexFile is the curated digest of the episodic store, rewritten by the
// memory curator each cycle.
const indexFile = "episodic-index.json"

type episodicIndex struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Episodes    int             `json:"episodes"`
	Entries     []episodicEntry `json:"entries,omitempty"`
}

type episodicEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// curateMemory rebuilds the curated index of the episodic store.
func curateMemory(ctx context.Context) error {
	paths, err := identity.Paths(ctx)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(paths.EpisodicDir())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading episodic store: %w", err)
	}

	idx := episodicIndex{GeneratedAt: time.Now().UTC()}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		idx.Entries = append(idx.Entries, episodicEntry{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}
	sort.Slice(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].Name < idx.Entries[j].Name
	})
	idx.Episodes = len(idx.Entries)

	if err := os.MkdirAll(paths.CuratedDir(), 0755); err != nil {
		return fmt.Errorf("creating curated store: %w", err)
	}
	return util.AtomicWriteJSON(filepath.Join(paths.CuratedDir(), indexFile), idx)
}

type dreamRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	DrawnFrom int       `json:"drawn_from"`
}

// generateDream writes one synthetic episode back into the episodic store,
// noting how many curated episodes it drew from.
func generateDream(ctx context.Context) error {
	paths, err := identity.Paths(ctx)
	if err != nil {
		return err
	}

	drawn := 0
	if data, err := os.ReadFile(filepath.Join(paths.CuratedDir(), indexFile)); err == nil {
		var idx episodicIndex
		if json.Unmarshal(data, &idx) == nil {
			drawn = idx.Episodes
		}
	}

	rec := dreamRecord{
		ID:        uuid.New().String(),
		Kind:      "dream",
		CreatedAt: time.Now().UTC(),
		DrawnFrom: drawn,
	}
	if err := os.MkdirAll(paths.EpisodicDir(), 0755); err != nil {
		return fmt.Errorf("creating episodic store: %w", err)
	}
	// Timestamp for sortability, ID fragment so rapid cycles never collide.
	name := fmt.Sprintf("dream-%s-%s.json", rec.CreatedAt.Format("20060102T150405"), rec.ID[:8])
	return util.AtomicWriteJSON(filepath.Join(paths.EpisodicDir(), name), rec)
}

// questionsFile collects pending questions for the user, one JSON line each.
const questionsFile = "questions.jsonl"

type questionRecord struct {
	ID     string    `json:"id"`
	TS     time.Time `json:"ts"`
	Topic  string    `json:"topic"`
	Status string    `json:"status"`
}

// askQuestions flags the least recently touched episodic entry for review.
// A topic already pending is not asked again.
func askQuestions(ctx context.Context) error {
	paths, err := identity.Paths(ctx)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(paths.CuratedDir(), indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading curated index: %w", err)
	}
	var idx episodicIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parsing curated index: %w", err)
	}
	if len(idx.Entries) == 0 {
		return nil
	}

	oldest := idx.Entries[0]
	for _, e := range idx.Entries[1:] {
		if e.Modified.Before(oldest.Modified) {
			oldest = e
		}
	}

	qPath := filepath.Join(paths.CuratedDir(), questionsFile)
	pending, err := pendingTopics(qPath)
	if err != nil {
		return err
	}
	if pending[oldest.Name] {
		return nil
	}

	q := questionRecord{
		ID:     uuid.New().String(),
		TS:     time.Now().UTC(),
		Topic:  oldest.Name,
		Status: "pending",
	}
	line, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshaling question: %w", err)
	}
	f, err := os.OpenFile(qPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening questions file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending question: %w", err)
	}
	return nil
}

func pendingTopics(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("reading questions file: %w", err)
	}

	topics := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var q questionRecord
		if err := json.Unmarshal([]byte(line), &q); err != nil {
			continue
		}
		if q.Status == "pending" {
			topics[q.Topic] = true
		}
	}
	return topics, nil
}
