package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsSweep is the task type for removing defunct sessions.
	TaskSessionsSweep = "sessions:sweep"
)

// NewSessionsSweepTask constructs an Asynq task. The sweep takes no payload.
func NewSessionsSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSessionsSweep, nil)
}
