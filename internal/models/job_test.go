package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSteps() []*JobStep {
	return []*JobStep{
		{Name: "projects", Order: 1, DisplayName: "Projects", EntityType: EntityJiraProjects},
		{Name: "issues", Order: 2, DisplayName: "Issues", EntityType: EntityJiraIssues},
		{Name: "comments", Order: 3, DisplayName: "Comments", EntityType: EntityJiraComments},
	}
}

func TestNewJobStartsReady(t *testing.T) {
	job := NewJob("job_1", "tenant-a", "int_1", "jira-sync", testSteps())

	assert.Equal(t, JobStatusReady, job.OverallStatus)
	assert.True(t, job.Active)
	for _, step := range job.Steps {
		assert.Equal(t, SubStatusIdle, step.Extraction)
		assert.Equal(t, SubStatusIdle, step.Transform)
		assert.Equal(t, SubStatusIdle, step.Embedding)
	}
	require.NoError(t, job.Validate())
}

func TestJobStepNavigation(t *testing.T) {
	job := NewJob("job_1", "tenant-a", "int_1", "jira-sync", testSteps())

	ordered := job.OrderedSteps()
	require.Len(t, ordered, 3)
	assert.Equal(t, "projects", ordered[0].Name)
	assert.Equal(t, "comments", ordered[2].Name)

	assert.Equal(t, "projects", job.FirstStep().Name)
	assert.Equal(t, "issues", job.NextStep("projects").Name)
	assert.Nil(t, job.NextStep("comments"))

	assert.False(t, job.IsLastStep("projects"))
	assert.True(t, job.IsLastStep("comments"))
	assert.False(t, job.IsLastStep("unknown"))
}

func TestJobValidateRejectsSparseOrders(t *testing.T) {
	job := NewJob("job_1", "tenant-a", "int_1", "jira-sync", []*JobStep{
		{Name: "projects", Order: 1, EntityType: EntityJiraProjects},
		{Name: "issues", Order: 3, EntityType: EntityJiraIssues},
	})
	err := job.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not dense")
}

func TestJobValidateRejectsDuplicateOrders(t *testing.T) {
	job := NewJob("job_1", "tenant-a", "int_1", "jira-sync", []*JobStep{
		{Name: "projects", Order: 1, EntityType: EntityJiraProjects},
		{Name: "issues", Order: 1, EntityType: EntityJiraIssues},
	})
	assert.Error(t, job.Validate())
}

func TestAllEmbeddingFinished(t *testing.T) {
	job := NewJob("job_1", "tenant-a", "int_1", "jira-sync", testSteps())
	assert.False(t, job.AllEmbeddingFinished())

	for _, step := range job.Steps {
		step.Embedding = SubStatusFinished
	}
	assert.True(t, job.AllEmbeddingFinished())
}

func TestResetSubStatuses(t *testing.T) {
	job := NewJob("job_1", "tenant-a", "int_1", "jira-sync", testSteps())
	job.Steps["issues"].Extraction = SubStatusFailed
	job.Steps["issues"].Transform = SubStatusRunning

	job.ResetSubStatuses()
	for _, step := range job.Steps {
		assert.Equal(t, SubStatusIdle, step.Extraction)
		assert.Equal(t, SubStatusIdle, step.Transform)
		assert.Equal(t, SubStatusIdle, step.Embedding)
	}
}

func TestSubStatusTransitions(t *testing.T) {
	assert.True(t, SubStatusIdle.CanTransitionTo(SubStatusRunning))
	assert.True(t, SubStatusIdle.CanTransitionTo(SubStatusFailed))
	assert.True(t, SubStatusRunning.CanTransitionTo(SubStatusFinished))
	assert.True(t, SubStatusRunning.CanTransitionTo(SubStatusFailed))
	// A closing bracket that overtakes the opening one is an implicit
	// open+close, not a conflict.
	assert.True(t, SubStatusIdle.CanTransitionTo(SubStatusFinished))

	assert.False(t, SubStatusFinished.CanTransitionTo(SubStatusRunning))
	assert.False(t, SubStatusFailed.CanTransitionTo(SubStatusRunning))
}

func TestJobStatusStartable(t *testing.T) {
	assert.True(t, JobStatusReady.IsStartable())
	assert.True(t, JobStatusCompleted.IsStartable())
	assert.True(t, JobStatusFailed.IsStartable())
	assert.False(t, JobStatusRunning.IsStartable())
}
