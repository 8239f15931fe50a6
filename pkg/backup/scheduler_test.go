package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

type fakeRunner struct {
	memories []domain.Memory
	listErr  error
	failFor  map[string]bool
	created  []string
}

func (r *fakeRunner) ListMemories(context.Context) ([]domain.Memory, error) {
	return r.memories, r.listErr
}

func (r *fakeRunner) CreateBackup(_ context.Context, memoryID string) (*Manifest, error) {
	r.created = append(r.created, memoryID)
	if r.failFor[memoryID] {
		return nil, errors.New("export failed")
	}
	return &Manifest{MemoryID: memoryID}, nil
}

func TestSchedulerRunAllBacksUpEveryMemory(t *testing.T) {
	runner := &fakeRunner{memories: []domain.Memory{{ID: "legal"}, {ID: "hr"}}}
	s := &Scheduler{runner: runner, logger: log.WithModule("backup-test")}

	s.runAll()

	assert.Equal(t, []string{"legal", "hr"}, runner.created)
}

func TestSchedulerRunAllContinuesPastFailures(t *testing.T) {
	runner := &fakeRunner{
		memories: []domain.Memory{{ID: "legal"}, {ID: "hr"}},
		failFor:  map[string]bool{"legal": true},
	}
	s := &Scheduler{runner: runner, logger: log.WithModule("backup-test")}

	s.runAll()

	assert.Equal(t, []string{"legal", "hr"}, runner.created)
}

func TestNewSchedulerRejectsBadExpression(t *testing.T) {
	_, err := NewScheduler(&fakeRunner{}, "not a cron spec")
	require.Error(t, err)

	s, err := NewScheduler(&fakeRunner{}, "")
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
