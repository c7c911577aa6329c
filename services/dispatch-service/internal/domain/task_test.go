package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ErrandDispatchPlatform/pkg/errors"
)

func TestTaskStatus(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())
	assert.False(t, TaskStatusMatched.IsTerminal())

	s, err := ParseTaskStatus("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusInProgress, s)

	for _, raw := range []string{"in_progress", "", "DONE"} {
		_, err = ParseTaskStatus(raw)
		assert.Equal(t, errors.ErrValidation, errors.CodeOf(err), raw)
	}
}

func TestTask_RoleOf(t *testing.T) {
	task := &Task{RequesterID: "req"}
	assert.Equal(t, RoleRequester, task.RoleOf("req"))
	assert.Equal(t, RoleCandidate, task.RoleOf("w1"))

	worker := "w1"
	task.WorkerID = &worker
	assert.Equal(t, RoleWorker, task.RoleOf("w1"))
	assert.Equal(t, RoleNone, task.RoleOf("w2"))
}

// TestContentPatch_RecomputesTotal проверяет инвариант total = base + distance + tip
func TestContentPatch_RecomputesTotal(t *testing.T) {
	task := &Task{BasePrice: 8000, DistancePrice: 2000}
	task.ComputeTotal()
	assert.Equal(t, int64(10000), task.TotalPrice)

	tip := int64(1000)
	ContentPatch{Tip: &tip}.Apply(task)
	assert.Equal(t, int64(11000), task.TotalPrice)

	title := "groceries"
	ContentPatch{Title: &title}.Apply(task)
	assert.Equal(t, "groceries", task.Title)
	assert.Equal(t, int64(11000), task.TotalPrice)
	assert.True(t, ContentPatch{}.IsEmpty())
}

func TestTask_CloneIsDeep(t *testing.T) {
	worker := "w1"
	task := &Task{ID: "t1", WorkerID: &worker}
	cp := task.Clone()
	*cp.WorkerID = "w2"
	assert.Equal(t, "w1", *task.WorkerID)
}

func TestApplication_IsClosed(t *testing.T) {
	task := &Task{Status: TaskStatusOpen, TotalPrice: 10000}
	app := &Application{Status: ApplicationStatusPending}
	assert.False(t, app.IsClosed(task))
	assert.Equal(t, int64(10000), app.EffectivePrice(task))

	task.Status = TaskStatusMatched
	assert.True(t, app.IsClosed(task))

	price := int64(9000)
	app.ProposedPrice = &price
	assert.Equal(t, int64(9000), app.EffectivePrice(task))
}

func TestTaskEvent_RoutingKey(t *testing.T) {
	assert.Equal(t, "task.in_progress", TaskEvent{To: TaskStatusInProgress}.RoutingKey())
}
