// Package maintenance reconciles the object store against the graph: every
// stored document should be referenced by a graph node and vice versa.
package maintenance

import (
	"context"
	"log/slog"
	"strings"

	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
	"github.com/liliang-cn/graphmem/pkg/store/object"
)

// Checker compares object-store contents with the graph's object URIs.
type Checker struct {
	graph        *graph.Store
	objects      *object.Store
	backupPrefix string
	logger       *slog.Logger
}

func NewChecker(graphStore *graph.Store, objects *object.Store, backupPrefix string) *Checker {
	return &Checker{
		graph:        graphStore,
		objects:      objects,
		backupPrefix: backupPrefix,
		logger:       log.WithModule("maintenance"),
	}
}

// Report is the outcome of a storage check.
type Report struct {
	TotalObjects int `json:"total_objects"`
	// Referenced objects exist in both the store and the graph.
	Referenced int `json:"referenced"`
	// Orphans exist in the object store but no graph node points at them.
	Orphans []string `json:"orphans"`
	// Missing are graph references whose object is gone.
	Missing []string `json:"missing"`
	// BackupObjects were skipped: backups are not document objects.
	BackupObjects int `json:"backup_objects"`
}

// Check lists every object and classifies it. Backup objects are counted but
// never reported as orphans. A non-empty memoryID restricts the candidate
// objects to that memory's prefix; the reference set stays global, so a
// document belonging to another memory is never an orphan of the scoped one.
func (c *Checker) Check(ctx context.Context, memoryID string) (*Report, error) {
	uris, err := c.graph.AllObjectURIs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(uris))
	for _, uri := range uris {
		key, err := c.objects.ParseKey(uri)
		if err != nil {
			continue
		}
		known[key] = true
	}

	scope := ""
	if memoryID != "" {
		scope = "memories/" + memoryID + "/"
	}
	objects, err := c.objects.ListPrefix(ctx, scope)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		if strings.HasPrefix(obj.Key, c.backupPrefix) {
			report.BackupObjects++
			continue
		}
		report.TotalObjects++
		seen[obj.Key] = true
		if known[obj.Key] {
			report.Referenced++
		} else {
			report.Orphans = append(report.Orphans, obj.Key)
		}
	}

	for key := range known {
		if scope != "" && !strings.HasPrefix(key, scope) {
			continue
		}
		if !seen[key] {
			report.Missing = append(report.Missing, key)
		}
	}

	c.logger.Info("storage check", "objects", report.TotalObjects,
		"orphans", len(report.Orphans), "missing", len(report.Missing))
	return report, nil
}

// CleanupResult reports what a cleanup removed (or would remove).
type CleanupResult struct {
	DryRun  bool     `json:"dry_run"`
	Removed []string `json:"removed"`
}

// Cleanup deletes orphan objects. Dry-run lists them without deleting;
// callers must opt in to actual deletion.
func (c *Checker) Cleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	report, err := c.Check(ctx, "")
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{DryRun: dryRun}
	for _, key := range report.Orphans {
		if !dryRun {
			if err := c.objects.Delete(ctx, key); err != nil {
				c.logger.Warn("orphan deletion failed", "key", key, "error", err)
				continue
			}
		}
		result.Removed = append(result.Removed, key)
	}

	c.logger.Info("storage cleanup", "dry_run", dryRun, "removed", len(result.Removed))
	return result, nil
}
