package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/backup"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/maintenance"
)

func (s *Server) registerBackupTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "backup_create",
		Description: "Snapshot a memory (graph, vectors, document keys) into the object store",
	}, s.handleBackupCreate)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "backup_list",
		Description: "List backups, optionally for one memory",
	}, s.handleBackupList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "backup_restore",
		Description: "Restore a memory from a stored backup; the memory must not exist",
	}, s.handleBackupRestore)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "backup_download",
		Description: "Download a backup as a base64 tar.gz archive",
	}, s.handleBackupDownload)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "backup_delete",
		Description: "Delete a stored backup",
	}, s.handleBackupDelete)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "backup_restore_archive",
		Description: "Restore a memory from an uploaded tar.gz archive",
	}, s.handleBackupRestoreArchive)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "storage_check",
		Description: "Reconcile the object store against the graph's document references",
	}, s.handleStorageCheck)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "storage_cleanup",
		Description: "Delete orphan objects found by storage_check (dry-run by default)",
	}, s.handleStorageCleanup)
}

// splitBackupID parses "{memory_id}/{timestamp}".
func splitBackupID(backupID string) (memoryID, timestamp string, err error) {
	memoryID, timestamp, ok := strings.Cut(backupID, "/")
	if !ok || memoryID == "" || timestamp == "" {
		return "", "", fmt.Errorf("%w: backup_id must be memory_id/timestamp, got %q",
			domain.ErrInvalidInput, backupID)
	}
	return memoryID, timestamp, nil
}

type BackupCreateArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory to snapshot"`
}

func (s *Server) handleBackupCreate(ctx context.Context, req *mcp.CallToolRequest, args BackupCreateArgs) (*mcp.CallToolResult, backup.Manifest, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermAdmin, args.MemoryID); err != nil {
		return nil, backup.Manifest{}, err
	}

	manifest, err := s.app.CreateBackup(ctx, args.MemoryID)
	if err != nil {
		return nil, backup.Manifest{}, err
	}
	return textResult(manifest), *manifest, nil
}

type BackupListArgs struct {
	MemoryID string `json:"memory_id,omitempty" jsonschema:"Restrict to one memory"`
}

type BackupListResult struct {
	Backups []backup.Manifest `json:"backups"`
}

func (s *Server) handleBackupList(ctx context.Context, req *mcp.CallToolRequest, args BackupListArgs) (*mcp.CallToolResult, BackupListResult, error) {
	if _, err := requirePermission(ctx, auth.PermAdmin); err != nil {
		return nil, BackupListResult{}, err
	}

	manifests, err := s.app.Backups.List(ctx, args.MemoryID)
	if err != nil {
		return nil, BackupListResult{}, err
	}

	result := BackupListResult{Backups: manifests}
	return textResult(result), result, nil
}

type BackupRestoreArgs struct {
	BackupID string `json:"backup_id" jsonschema:"Backup identifier memory_id/timestamp"`
}

func (s *Server) handleBackupRestore(ctx context.Context, req *mcp.CallToolRequest, args BackupRestoreArgs) (*mcp.CallToolResult, backup.Manifest, error) {
	memoryID, timestamp, err := splitBackupID(args.BackupID)
	if err != nil {
		return nil, backup.Manifest{}, err
	}
	if _, err := requireMemoryAccess(ctx, auth.PermAdmin, memoryID); err != nil {
		return nil, backup.Manifest{}, err
	}

	manifest, err := s.app.RestoreBackup(ctx, memoryID, timestamp)
	if err != nil {
		return nil, backup.Manifest{}, err
	}
	return textResult(manifest), *manifest, nil
}

type BackupDownloadArgs struct {
	BackupID         string `json:"backup_id" jsonschema:"Backup identifier memory_id/timestamp"`
	IncludeDocuments bool   `json:"include_documents,omitempty" jsonschema:"Also pack the raw document bytes"`
}

type BackupDownloadResult struct {
	BackupID      string `json:"backup_id"`
	Filename      string `json:"filename"`
	SizeBytes     int    `json:"size_bytes"`
	ArchiveBase64 string `json:"archive_base64"`
}

func (s *Server) handleBackupDownload(ctx context.Context, req *mcp.CallToolRequest, args BackupDownloadArgs) (*mcp.CallToolResult, BackupDownloadResult, error) {
	memoryID, timestamp, err := splitBackupID(args.BackupID)
	if err != nil {
		return nil, BackupDownloadResult{}, err
	}
	if _, err := requireMemoryAccess(ctx, auth.PermAdmin, memoryID); err != nil {
		return nil, BackupDownloadResult{}, err
	}

	archive, err := s.app.Backups.Download(ctx, memoryID, timestamp, args.IncludeDocuments)
	if err != nil {
		return nil, BackupDownloadResult{}, err
	}

	result := BackupDownloadResult{
		BackupID:      args.BackupID,
		Filename:      fmt.Sprintf("%s_%s.tar.gz", memoryID, timestamp),
		SizeBytes:     len(archive),
		ArchiveBase64: base64.StdEncoding.EncodeToString(archive),
	}
	return textResult(map[string]any{
		"backup_id":  result.BackupID,
		"filename":   result.Filename,
		"size_bytes": result.SizeBytes,
	}), result, nil
}

type BackupDeleteArgs struct {
	BackupID string `json:"backup_id" jsonschema:"Backup identifier memory_id/timestamp"`
}

type BackupDeleteResult struct {
	Deleted        bool `json:"deleted"`
	ObjectsRemoved int  `json:"objects_removed"`
}

func (s *Server) handleBackupDelete(ctx context.Context, req *mcp.CallToolRequest, args BackupDeleteArgs) (*mcp.CallToolResult, BackupDeleteResult, error) {
	memoryID, timestamp, err := splitBackupID(args.BackupID)
	if err != nil {
		return nil, BackupDeleteResult{}, err
	}
	if _, err := requireMemoryAccess(ctx, auth.PermAdmin, memoryID); err != nil {
		return nil, BackupDeleteResult{}, err
	}

	removed, err := s.app.Backups.Delete(ctx, memoryID, timestamp)
	if err != nil {
		return nil, BackupDeleteResult{}, err
	}

	result := BackupDeleteResult{Deleted: true, ObjectsRemoved: removed}
	return textResult(result), result, nil
}

type BackupRestoreArchiveArgs struct {
	MemoryID      string `json:"memory_id" jsonschema:"Memory to restore into; must not exist"`
	ArchiveBase64 string `json:"archive_base64" jsonschema:"tar.gz archive, base64-encoded"`
}

func (s *Server) handleBackupRestoreArchive(ctx context.Context, req *mcp.CallToolRequest, args BackupRestoreArchiveArgs) (*mcp.CallToolResult, backup.Manifest, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermAdmin, args.MemoryID); err != nil {
		return nil, backup.Manifest{}, err
	}

	archive, err := base64.StdEncoding.DecodeString(args.ArchiveBase64)
	if err != nil {
		return nil, backup.Manifest{}, fmt.Errorf("%w: archive_base64 is not valid base64: %v",
			domain.ErrInvalidInput, err)
	}

	manifest, err := s.app.RestoreBackupArchive(ctx, args.MemoryID, archive)
	if err != nil {
		return nil, backup.Manifest{}, err
	}
	return textResult(manifest), *manifest, nil
}

type StorageCheckArgs struct {
	MemoryID string `json:"memory_id,omitempty" jsonschema:"Restrict the check to one memory"`
}

func (s *Server) handleStorageCheck(ctx context.Context, req *mcp.CallToolRequest, args StorageCheckArgs) (*mcp.CallToolResult, maintenance.Report, error) {
	if _, err := requirePermission(ctx, auth.PermAdmin); err != nil {
		return nil, maintenance.Report{}, err
	}

	report, err := s.app.Checker.Check(ctx, args.MemoryID)
	if err != nil {
		return nil, maintenance.Report{}, err
	}
	return textResult(report), *report, nil
}

type StorageCleanupArgs struct {
	Confirm bool `json:"confirm,omitempty" jsonschema:"Actually delete orphans; otherwise dry-run"`
}

func (s *Server) handleStorageCleanup(ctx context.Context, req *mcp.CallToolRequest, args StorageCleanupArgs) (*mcp.CallToolResult, maintenance.CleanupResult, error) {
	if _, err := requirePermission(ctx, auth.PermAdmin); err != nil {
		return nil, maintenance.CleanupResult{}, err
	}

	result, err := s.app.Checker.Cleanup(ctx, !args.Confirm)
	if err != nil {
		return nil, maintenance.CleanupResult{}, err
	}
	return textResult(result), *result, nil
}
