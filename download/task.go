package download

import (
	"time"

	"github.com/trickstertwo/xpool"
)

// Status mirrors the task lifecycle: Todo, Doing, Done.
type Status = xpool.TaskStatus

const (
	StatusTodo  = xpool.TaskTodo
	StatusDoing = xpool.TaskDoing
	StatusDone  = xpool.TaskDone
)

// Task is a pooled download request tracked by the Manager.
type Task struct {
	xpool.Task

	DestinationPath string
	SourceURI       string
	FlushThreshold  int64
	Downloaded      int64
	Err             error
}

func newTask() *Task {
	t := &Task{}
	t.Reset()
	return t
}

// Reset returns the task to its zero state for reuse.
func (t *Task) Reset() {
	*t = Task{}
	t.Task.Reset()
}

// SourceKey makes retries count per source URI.
func (t *Task) SourceKey() string { return t.SourceURI }

func (t *Task) request() Request {
	return Request{
		Serial:          t.SerialID,
		SourceURI:       t.SourceURI,
		DestinationPath: t.DestinationPath,
		FlushThreshold:  t.FlushThreshold,
		Timeout:         t.Timeout(),
	}
}

// Info is a read-only view of a download.
type Info struct {
	Serial          int64
	Tag             string
	Priority        int
	UserData        any
	Status          Status
	DestinationPath string
	SourceURI       string
	Downloaded      int64
	Elapsed         time.Duration
	Attempt         int
}

func (t *Task) info() Info {
	return Info{
		Serial:          t.SerialID,
		Tag:             t.Tag,
		Priority:        t.Priority,
		UserData:        t.UserData,
		Status:          t.Status(),
		DestinationPath: t.DestinationPath,
		SourceURI:       t.SourceURI,
		Downloaded:      t.Downloaded,
		Elapsed:         t.Elapsed(),
		Attempt:         t.Attempt(),
	}
}
