package stateengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/journal"
)

// Engine registers Plugins, orders them by declared dependency, and
// drives cross-plugin applies while journaling every committed change.
type Engine struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	journal *journal.Journal
}

// NewEngine builds an Engine that journals commits to j. j may be nil in
// dry-run-only or query-only deployments.
func NewEngine(j *journal.Journal) *Engine {
	return &Engine{plugins: make(map[string]Plugin), journal: j}
}

// Register adds p to the engine, rejecting it if its declared
// dependencies would introduce a cycle.
func (e *Engine) Register(p Plugin) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := p.Name()
	if _, exists := e.plugins[name]; exists {
		return errs.Newf(errs.KindValidation, "stateengine: plugin %q already registered", name)
	}

	trial := make(map[string]Plugin, len(e.plugins)+1)
	for k, v := range e.plugins {
		trial[k] = v
	}
	trial[name] = p

	if _, err := topologicalOrder(trial); err != nil {
		return err
	}

	e.plugins[name] = p
	return nil
}

// Plugin looks up a registered plugin by name.
func (e *Engine) Plugin(name string) (Plugin, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plugins[name]
	return p, ok
}

// TopologicalOrder returns registered plugin names ordered so each
// plugin appears after every plugin it depends on.
func (e *Engine) TopologicalOrder() ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return topologicalOrder(e.plugins)
}

func topologicalOrder(plugins map[string]Plugin) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(plugins))
	order := make([]string, 0, len(plugins))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return errs.Newf(errs.KindValidation, "stateengine: dependency cycle detected: %v", append(path, name))
		}
		state[name] = visiting

		p, ok := plugins[name]
		if ok {
			for _, dep := range p.Schema().Dependencies {
				if _, known := plugins[dep]; !known {
					return errs.Newf(errs.KindValidation, "stateengine: plugin %q depends on unregistered plugin %q", name, dep)
				}
				if err := visit(dep, append(path, name)); err != nil {
					return err
				}
			}
		}

		state[name] = visited
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ApplyCrossPlugin applies a multi-plugin plan in dependency order,
// journaling each commit. It stops at the first plugin whose ApplyDiff
// reports a non-recoverable failure, returning the reports gathered so
// far alongside the error.
func (e *Engine) ApplyCrossPlugin(ctx context.Context, plan map[string]DesiredState, dryRun bool) (map[string]ApplyReport, error) {
	order, err := e.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	reports := make(map[string]ApplyReport)
	for _, name := range order {
		desired, wanted := plan[name]
		if !wanted {
			continue
		}
		e.mu.RLock()
		p, ok := e.plugins[name]
		e.mu.RUnlock()
		if !ok {
			return reports, errs.Newf(errs.KindInternal, "stateengine: plugin %q vanished from registry mid-apply", name)
		}

		diff, err := p.CalculateDiff(ctx, desired)
		if err != nil {
			return reports, errs.Newf(errs.KindInternal, "stateengine: plugin %q diff: %v", name, err)
		}

		report, err := p.ApplyDiff(ctx, diff, dryRun)
		reports[name] = report
		if err != nil {
			return reports, err
		}

		if !dryRun && e.journal != nil {
			for _, change := range report.Applied {
				if jerr := e.journal.Append(journalRecordFrom(change)); jerr != nil {
					return reports, jerr
				}
			}
		}

		if report.Failed != nil {
			return reports, fmt.Errorf("stateengine: plugin %q failed at path %q: %w", name, report.Failed.Path, report.Err)
		}
	}
	return reports, nil
}

// journalRecordFrom converts a plugin's applied PlanChange into the
// journal's ChangeRecord, sharing the same Operation ordering.
func journalRecordFrom(change PlanChange) journal.ChangeRecord {
	return journal.NewChangeRecord(journal.Operation(change.Operation), change.Path, change.OldValue, change.NewValue, change.Description)
}

// MarshalDesiredState wraps a decoded document as DesiredState, computing
// its hash over the canonical JSON encoding.
func MarshalDesiredState(doc any, source StateSource, description string) (DesiredState, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return DesiredState{}, errs.Newf(errs.KindValidation, "stateengine: marshal desired state: %v", err)
	}
	return DesiredState{
		State:       raw,
		Timestamp:   time.Now().UTC(),
		Hash:        contentHash(raw),
		Description: description,
		Source:      source,
	}, nil
}
