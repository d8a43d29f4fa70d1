// Package snapshot manages btrfs read-only snapshots of the host's
// working-state subvolume, with counter-based rotation.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hostctl/hostctl/internal/errs"
)

// SnapshotConfig controls where snapshots live and how many are retained.
type SnapshotConfig struct {
	Dir          string
	MaxSnapshots int
	Prefix       string
}

// DefaultSnapshotConfig matches the daemon's conventional on-disk layout.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Dir:          "/var/lib/hostctl/snapshots",
		MaxSnapshots: 24,
		Prefix:       "SNP-cache",
	}
}

// SnapshotDescriptor is one entry returned by ListSnapshots.
type SnapshotDescriptor struct {
	Name      string
	Path      string
	CreatedAt time.Time
	Counter   int
}

// SnapshotManager drives btrfs snapshot/delete of a single source
// subvolume. CreateSnapshot and DeleteSnapshot shell out to the btrfs
// CLI: this is a deliberate exception to the daemon's native-protocol
// rule, since btrfs subvolume management has no Go syscall binding in
// the ecosystem and is a filesystem concern distinct from host-admin
// tool calls an LLM might hallucinate a shell command for.
type SnapshotManager struct {
	config       SnapshotConfig
	sourceSubvol string
}

// NewSnapshotManager builds a manager for sourceSubvol using config.
func NewSnapshotManager(sourceSubvol string, config SnapshotConfig) *SnapshotManager {
	return &SnapshotManager{config: config, sourceSubvol: sourceSubvol}
}

// CreateSnapshot takes a readonly btrfs snapshot of the source subvolume
// and rotates old snapshots past MaxSnapshots.
func (m *SnapshotManager) CreateSnapshot(ctx context.Context) (SnapshotDescriptor, error) {
	if err := os.MkdirAll(m.config.Dir, 0o750); err != nil {
		return SnapshotDescriptor{}, errs.Newf(errs.KindInternal, "snapshot: mkdir %s: %v", m.config.Dir, err)
	}

	counter, err := m.nextCounter(ctx)
	if err != nil {
		return SnapshotDescriptor{}, err
	}
	name := fmt.Sprintf("%s-%06d", m.config.Prefix, counter)
	path := filepath.Join(m.config.Dir, name)

	cmd := exec.CommandContext(ctx, "btrfs", "subvolume", "snapshot", "-r", m.sourceSubvol, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return SnapshotDescriptor{}, errs.Newf(errs.KindInternal, "snapshot: btrfs subvolume snapshot: %v: %s", err, strings.TrimSpace(string(out)))
	}

	if err := m.rotate(ctx); err != nil {
		return SnapshotDescriptor{}, err
	}

	info, err := os.Stat(path)
	createdAt := time.Now().UTC()
	if err == nil {
		createdAt = info.ModTime().UTC()
	}
	return SnapshotDescriptor{Name: name, Path: path, CreatedAt: createdAt, Counter: counter}, nil
}

// ListSnapshots enumerates existing snapshots for this prefix, sorted by
// counter ascending; entries without a parseable counter sort by
// creation time instead.
func (m *SnapshotManager) ListSnapshots() ([]SnapshotDescriptor, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Newf(errs.KindInternal, "snapshot: readdir %s: %v", m.config.Dir, err)
	}

	prefix := m.config.Prefix + "-"
	var out []SnapshotDescriptor
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		counter, hasCounter := parseCounter(strings.TrimPrefix(entry.Name(), prefix))
		path := filepath.Join(m.config.Dir, entry.Name())
		createdAt := time.Time{}
		if info, err := entry.Info(); err == nil {
			createdAt = info.ModTime().UTC()
		}
		desc := SnapshotDescriptor{Name: entry.Name(), Path: path, CreatedAt: createdAt}
		if hasCounter {
			desc.Counter = counter
		} else {
			desc.Counter = -1
		}
		out = append(out, desc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Counter >= 0 && out[j].Counter >= 0 {
			return out[i].Counter < out[j].Counter
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteSnapshot removes the named readonly snapshot.
func (m *SnapshotManager) DeleteSnapshot(ctx context.Context, name string) error {
	path := filepath.Join(m.config.Dir, name)
	cmd := exec.CommandContext(ctx, "btrfs", "subvolume", "delete", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errs.Newf(errs.KindInternal, "snapshot: btrfs subvolume delete: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *SnapshotManager) rotate(ctx context.Context) error {
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return err
	}
	if len(snapshots) <= m.config.MaxSnapshots {
		return nil
	}
	toDelete := len(snapshots) - m.config.MaxSnapshots
	for _, s := range snapshots[:toDelete] {
		if err := m.DeleteSnapshot(ctx, s.Name); err != nil {
			return err
		}
	}
	return nil
}

func (m *SnapshotManager) nextCounter(ctx context.Context) (int, error) {
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, s := range snapshots {
		if s.Counter > max {
			max = s.Counter
		}
	}
	return max + 1, nil
}

func parseCounter(suffix string) (int, bool) {
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SnapshotInterval names how often the daemon should trigger a snapshot.
type SnapshotInterval int

const (
	PerOperation SnapshotInterval = iota
	EveryMinute
	Every5Minutes
	Every15Minutes // default
	Every30Minutes
	Hourly
	Daily
	Weekly
)

func (i SnapshotInterval) duration() time.Duration {
	switch i {
	case EveryMinute:
		return time.Minute
	case Every5Minutes:
		return 5 * time.Minute
	case Every15Minutes:
		return 15 * time.Minute
	case Every30Minutes:
		return 30 * time.Minute
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ShouldSnapshot reports whether elapsed time since the last snapshot
// warrants taking another one. PerOperation has no duration and always
// returns true, since every mutation is its own trigger.
func (i SnapshotInterval) ShouldSnapshot(elapsed time.Duration) bool {
	if i == PerOperation {
		return true
	}
	return elapsed >= i.duration()
}

// ParseInterval maps the config file's interval name to a SnapshotInterval,
// defaulting to Every15Minutes on an empty or unrecognized value.
func ParseInterval(name string) SnapshotInterval {
	switch name {
	case "per_operation":
		return PerOperation
	case "every_minute":
		return EveryMinute
	case "every_5_minutes":
		return Every5Minutes
	case "every_30_minutes":
		return Every30Minutes
	case "hourly":
		return Hourly
	case "daily":
		return Daily
	case "weekly":
		return Weekly
	default:
		return Every15Minutes
	}
}

// cronSpec returns the equivalent 6-field cron expression (seconds
// optional) for intervals robfig/cron can schedule directly. PerOperation
// has no fixed cadence and is not schedulable, and no per-mutation
// snapshot trigger exists elsewhere.
func (i SnapshotInterval) cronSpec() (string, bool) {
	switch i {
	case EveryMinute:
		return "@every 1m", true
	case Every5Minutes:
		return "@every 5m", true
	case Every15Minutes:
		return "@every 15m", true
	case Every30Minutes:
		return "@every 30m", true
	case Hourly:
		return "@hourly", true
	case Daily:
		return "@daily", true
	case Weekly:
		return "@weekly", true
	default:
		return "", false
	}
}
