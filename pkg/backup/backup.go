// Package backup snapshots a memory (graph, vectors, document keys) into the
// object store and restores it, optionally through a portable tar.gz archive.
package backup

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
	"github.com/liliang-cn/graphmem/pkg/store/object"
	"github.com/liliang-cn/graphmem/pkg/store/vector"
)

const (
	manifestVersion = "1.0"

	graphFile    = "graph_data.json"
	vectorsFile  = "qdrant_vectors.jsonl"
	docKeysFile  = "document_keys.json"
	manifestFile = "manifest.json"

	timestampLayout = "20060102T150405Z"
)

// Manifest describes one backup and carries a checksum per data file.
// IncludesDocuments is only set on archive manifests whose tar carries the
// original document files under documents/.
type Manifest struct {
	Version           string               `json:"version"`
	MemoryID          string               `json:"memory_id"`
	Timestamp         string               `json:"timestamp"`
	CreatedAt         time.Time            `json:"created_at"`
	Files             map[string]FileEntry `json:"files"`
	Documents         int                  `json:"documents"`
	Entities          int                  `json:"entities"`
	Relations         int                  `json:"relations"`
	Vectors           int                  `json:"vectors"`
	MemoryName        string               `json:"memory_name"`
	IncludesDocuments bool                 `json:"includes_documents,omitempty"`
}

// FileEntry is one data file in a backup.
type FileEntry struct {
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`
}

// Service creates, lists, restores and prunes backups.
type Service struct {
	graph     *graph.Store
	objects   *object.Store
	vectors   *vector.Store
	prefix    string
	retention int
	logger    *slog.Logger
}

func New(graphStore *graph.Store, objects *object.Store, vectors *vector.Store, cfg config.BackupConfig) *Service {
	prefix := cfg.Prefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Service{
		graph:     graphStore,
		objects:   objects,
		vectors:   vectors,
		prefix:    prefix,
		retention: cfg.RetentionCount,
		logger:    log.WithModule("backup"),
	}
}

// Prefix returns the object-store prefix backups live under, used by the
// storage consistency check to exclude backup objects.
func (s *Service) Prefix() string { return s.prefix }

func (s *Service) backupDir(memoryID, timestamp string) string {
	return s.prefix + memoryID + "/" + timestamp + "/"
}

// Create snapshots the memory and enforces the retention count.
func (s *Service) Create(ctx context.Context, memoryID string) (*Manifest, error) {
	data, err := s.graph.ExportMemoryData(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	points, err := s.vectors.Export(ctx, memoryID)
	if err != nil {
		s.logger.Warn("vector export failed, backing up graph only",
			"memory_id", memoryID, "error", err)
		points = nil
	}

	graphJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("graph serialization failed: %w", err)
	}

	var vectorsBuf bytes.Buffer
	for _, point := range points {
		row, err := json.Marshal(point)
		if err != nil {
			return nil, fmt.Errorf("vector serialization failed: %w", err)
		}
		vectorsBuf.Write(row)
		vectorsBuf.WriteByte('\n')
	}

	docKeys := make([]string, 0, len(data.Documents))
	for _, doc := range data.Documents {
		if doc.ObjectURI != "" {
			docKeys = append(docKeys, doc.ObjectURI)
		}
	}
	keysJSON, err := json.MarshalIndent(docKeys, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("document key serialization failed: %w", err)
	}

	timestamp := time.Now().UTC().Format(timestampLayout)
	dir := s.backupDir(memoryID, timestamp)

	manifest := &Manifest{
		Version:    manifestVersion,
		MemoryID:   memoryID,
		Timestamp:  timestamp,
		CreatedAt:  time.Now().UTC(),
		MemoryName: data.Memory.Name,
		Documents:  len(data.Documents),
		Entities:   len(data.Entities),
		Relations:  len(data.Relations),
		Vectors:    len(points),
		Files: map[string]FileEntry{
			graphFile:   fileEntry(graphJSON),
			vectorsFile: fileEntry(vectorsBuf.Bytes()),
			docKeysFile: fileEntry(keysJSON),
		},
	}

	files := map[string][]byte{
		graphFile:   graphJSON,
		vectorsFile: vectorsBuf.Bytes(),
		docKeysFile: keysJSON,
	}
	for name, content := range files {
		if _, err := s.objects.Put(ctx, dir+name, content, "application/json"); err != nil {
			return nil, err
		}
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest serialization failed: %w", err)
	}
	if _, err := s.objects.Put(ctx, dir+manifestFile, manifestJSON, "application/json"); err != nil {
		return nil, err
	}

	s.logger.Info("backup created", "memory_id", memoryID, "timestamp", timestamp,
		"documents", manifest.Documents, "entities", manifest.Entities, "vectors", manifest.Vectors)

	if err := s.enforceRetention(ctx, memoryID); err != nil {
		s.logger.Warn("retention enforcement failed", "memory_id", memoryID, "error", err)
	}
	return manifest, nil
}

// List returns backup manifests newest first. An empty memoryID lists the
// backups of every memory.
func (s *Service) List(ctx context.Context, memoryID string) ([]Manifest, error) {
	prefix := s.prefix
	if memoryID != "" {
		prefix += memoryID + "/"
	}
	objects, err := s.objects.ListPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var manifests []Manifest
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, "/"+manifestFile) {
			continue
		}
		raw, err := s.objects.Get(ctx, obj.Key)
		if err != nil {
			s.logger.Warn("unreadable manifest skipped", "key", obj.Key, "error", err)
			continue
		}
		var manifest Manifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			s.logger.Warn("corrupt manifest skipped", "key", obj.Key, "error", err)
			continue
		}
		manifests = append(manifests, manifest)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Timestamp > manifests[j].Timestamp
	})
	return manifests, nil
}

// Restore rebuilds a memory from a backup. The memory id must be free; a
// half-restored memory is deleted on failure.
func (s *Service) Restore(ctx context.Context, memoryID, timestamp string) (*Manifest, error) {
	if _, err := s.graph.GetMemory(ctx, memoryID); err == nil {
		return nil, fmt.Errorf("%w: memory %q already exists, delete it before restoring",
			domain.ErrAlreadyExists, memoryID)
	} else if domain.KindOf(err) != domain.KindNotFound {
		return nil, err
	}

	manifest, files, err := s.readBackup(ctx, memoryID, timestamp)
	if err != nil {
		return nil, err
	}

	if err := s.restoreFiles(ctx, memoryID, files, nil); err != nil {
		s.cleanupFailedRestore(ctx, memoryID)
		return nil, err
	}

	s.logger.Info("backup restored", "memory_id", memoryID, "timestamp", timestamp)
	return manifest, nil
}

// cleanupFailedRestore removes whatever half-landed so a retry starts clean.
func (s *Service) cleanupFailedRestore(ctx context.Context, memoryID string) {
	if _, err := s.graph.DeleteMemory(ctx, memoryID); err != nil &&
		domain.KindOf(err) != domain.KindNotFound {
		s.logger.Error("cleanup after failed restore failed", "memory_id", memoryID, "error", err)
	}
	_ = s.vectors.DropCollection(ctx, memoryID)
	if _, err := s.objects.DeletePrefix(ctx, "memories/"+memoryID+"/"); err != nil {
		s.logger.Warn("document cleanup after failed restore failed", "memory_id", memoryID, "error", err)
	}
}

// readBackup fetches and checksum-verifies the backup's files.
func (s *Service) readBackup(ctx context.Context, memoryID, timestamp string) (*Manifest, map[string][]byte, error) {
	dir := s.backupDir(memoryID, timestamp)

	manifestRaw, err := s.objects.Get(ctx, dir+manifestFile)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, nil, fmt.Errorf("%w: backup %s/%s", domain.ErrNotFound, memoryID, timestamp)
		}
		return nil, nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, nil, fmt.Errorf("%w: corrupt manifest: %v", domain.ErrConflict, err)
	}

	files := make(map[string][]byte, len(manifest.Files))
	for name, entry := range manifest.Files {
		content, err := s.objects.Get(ctx, dir+name)
		if err != nil {
			return nil, nil, err
		}
		if sum := checksum(content); sum != entry.Checksum {
			return nil, nil, fmt.Errorf("%w: checksum mismatch on %s (manifest %s, actual %s)",
				domain.ErrConflict, name, entry.Checksum, sum)
		}
		files[name] = content
	}
	return &manifest, files, nil
}

// restoreFiles imports graph data then vectors into a fresh memory id. When
// documents carries archived document bytes (keyed by document id) they are
// re-uploaded first and the graph's object URIs rewritten to the new keys.
func (s *Service) restoreFiles(ctx context.Context, memoryID string, files, documents map[string][]byte) error {
	var data graph.MemoryData
	if err := json.Unmarshal(files[graphFile], &data); err != nil {
		return fmt.Errorf("%w: corrupt graph data: %v", domain.ErrConflict, err)
	}
	data.Memory.ID = memoryID
	for i := range data.Documents {
		doc := &data.Documents[i]
		content, ok := documents[doc.ID]
		if !ok {
			continue
		}
		uri, err := s.objects.Put(ctx, object.DocumentKey(memoryID, doc.ID), content, doc.ContentType)
		if err != nil {
			return err
		}
		doc.ObjectURI = uri
	}
	if err := s.graph.ImportMemoryData(ctx, &data); err != nil {
		return err
	}

	points, err := parseVectorsJSONL(files[vectorsFile])
	if err != nil {
		return err
	}
	if len(points) > 0 {
		if err := s.vectors.EnsureCollection(ctx, memoryID); err != nil {
			return err
		}
		if err := s.vectors.Import(ctx, memoryID, points); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes one backup.
func (s *Service) Delete(ctx context.Context, memoryID, timestamp string) (int, error) {
	dir := s.backupDir(memoryID, timestamp)
	removed, err := s.objects.DeletePrefix(ctx, dir)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: backup %s/%s", domain.ErrNotFound, memoryID, timestamp)
	}
	s.logger.Info("backup deleted", "memory_id", memoryID, "timestamp", timestamp, "objects", removed)
	return removed, nil
}

// enforceRetention deletes the oldest backups beyond the retention count.
func (s *Service) enforceRetention(ctx context.Context, memoryID string) error {
	if s.retention <= 0 {
		return nil
	}
	manifests, err := s.List(ctx, memoryID)
	if err != nil {
		return err
	}
	for _, manifest := range manifests[minLen(s.retention, len(manifests)):] {
		if _, err := s.Delete(ctx, memoryID, manifest.Timestamp); err != nil {
			return err
		}
		s.logger.Info("old backup pruned", "memory_id", memoryID, "timestamp", manifest.Timestamp)
	}
	return nil
}

func minLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func parseVectorsJSONL(raw []byte) ([]vector.ExportedPoint, error) {
	var points []vector.ExportedPoint
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var point vector.ExportedPoint
		if err := json.Unmarshal(line, &point); err != nil {
			return nil, fmt.Errorf("%w: corrupt vector row: %v", domain.ErrConflict, err)
		}
		points = append(points, point)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: corrupt vector file: %v", domain.ErrConflict, err)
	}
	return points, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func fileEntry(content []byte) FileEntry {
	return FileEntry{Checksum: checksum(content), SizeBytes: int64(len(content))}
}
