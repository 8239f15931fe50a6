package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
)

// maxArchiveBytes caps uploaded archives and their decompressed content.
const maxArchiveBytes = 100 * 1024 * 1024

// Download packages a backup as a tar.gz. With includeDocuments the original
// document files are added under documents/.
func (s *Service) Download(ctx context.Context, memoryID, timestamp string, includeDocuments bool) ([]byte, error) {
	manifest, files, err := s.readBackup(ctx, memoryID, timestamp)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	manifest.IncludesDocuments = includeDocuments
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest serialization failed: %w", err)
	}
	if err := writeTarFile(tw, manifestFile, manifestJSON); err != nil {
		return nil, err
	}
	for name, content := range files {
		if err := writeTarFile(tw, name, content); err != nil {
			return nil, err
		}
	}

	if includeDocuments {
		var keys []string
		if err := json.Unmarshal(files[docKeysFile], &keys); err != nil {
			return nil, fmt.Errorf("%w: corrupt document key list: %v", domain.ErrConflict, err)
		}
		for _, uri := range keys {
			content, err := s.objects.Get(ctx, uri)
			if err != nil {
				s.logger.Warn("document missing from object store, skipped in archive",
					"uri", uri, "error", err)
				continue
			}
			key, err := s.objects.ParseKey(uri)
			if err != nil {
				continue
			}
			if err := writeTarFile(tw, "documents/"+path.Base(key), content); err != nil {
				return nil, err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	s.logger.Info("backup archived", "memory_id", memoryID, "timestamp", timestamp,
		"size_bytes", buf.Len(), "with_documents", includeDocuments)
	return buf.Bytes(), nil
}

// RestoreArchive restores a memory from an uploaded tar.gz archive. The
// target memory id must not exist yet.
func (s *Service) RestoreArchive(ctx context.Context, memoryID string, archive []byte) (*Manifest, error) {
	if len(archive) > maxArchiveBytes {
		return nil, fmt.Errorf("%w: archive is %d bytes, limit is %d",
			domain.ErrQuotaExceeded, len(archive), maxArchiveBytes)
	}
	if _, err := s.graph.GetMemory(ctx, memoryID); err == nil {
		return nil, fmt.Errorf("%w: memory %q already exists, delete it before restoring",
			domain.ErrAlreadyExists, memoryID)
	} else if domain.KindOf(err) != domain.KindNotFound {
		return nil, err
	}

	files, err := extractArchive(archive)
	if err != nil {
		return nil, err
	}

	manifestRaw, ok := files[manifestFile]
	if !ok {
		return nil, fmt.Errorf("%w: archive has no %s", domain.ErrInvalidInput, manifestFile)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: corrupt manifest: %v", domain.ErrInvalidInput, err)
	}

	for name, entry := range manifest.Files {
		content, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("%w: archive is missing %s", domain.ErrInvalidInput, name)
		}
		if sum := checksum(content); sum != entry.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch on %s", domain.ErrInvalidInput, name)
		}
	}

	var data graph.MemoryData
	if err := json.Unmarshal(files[graphFile], &data); err != nil {
		return nil, fmt.Errorf("%w: corrupt graph data: %v", domain.ErrInvalidInput, err)
	}
	documents, err := documentEntries(&manifest, &data, files)
	if err != nil {
		return nil, err
	}

	if err := s.restoreFiles(ctx, memoryID, files, documents); err != nil {
		s.cleanupFailedRestore(ctx, memoryID)
		return nil, err
	}

	s.logger.Info("archive restored", "memory_id", memoryID,
		"source_memory", manifest.MemoryID, "timestamp", manifest.Timestamp)
	return &manifest, nil
}

// documentEntries collects the documents/<id> entries of an extracted
// archive, keyed by document id. When the manifest says documents are
// included, every graph document that had an object behind it must have its
// entry in the archive.
func documentEntries(manifest *Manifest, data *graph.MemoryData, files map[string][]byte) (map[string][]byte, error) {
	documents := make(map[string][]byte)
	for name, content := range files {
		if id, ok := strings.CutPrefix(name, "documents/"); ok && id != "" {
			documents[id] = content
		}
	}
	if manifest.IncludesDocuments {
		for _, doc := range data.Documents {
			if doc.ObjectURI == "" {
				continue
			}
			if _, ok := documents[doc.ID]; !ok {
				return nil, fmt.Errorf("%w: manifest includes documents but documents/%s is missing",
					domain.ErrInvalidInput, doc.ID)
			}
		}
	}
	return documents, nil
}

// extractArchive reads a tar.gz into memory, rejecting entries that escape
// the archive root and enforcing the decompressed size cap.
func extractArchive(archive []byte) (map[string][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("%w: not a gzip archive: %v", domain.ErrInvalidInput, err)
	}
	defer func() { _ = gz.Close() }()

	files := make(map[string][]byte)
	total := int64(0)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt tar archive: %v", domain.ErrInvalidInput, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(header.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("%w: archive entry escapes the archive root: %s",
				domain.ErrInvalidInput, header.Name)
		}

		limited := io.LimitReader(tr, maxArchiveBytes-total+1)
		content, err := io.ReadAll(limited)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt archive entry %s: %v", domain.ErrInvalidInput, name, err)
		}
		total += int64(len(content))
		if total > maxArchiveBytes {
			return nil, fmt.Errorf("%w: decompressed archive exceeds %d bytes",
				domain.ErrQuotaExceeded, maxArchiveBytes)
		}
		files[name] = content
	}
	return files, nil
}

func writeTarFile(tw *tar.Writer, name string, content []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(content)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}
