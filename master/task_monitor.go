// Copyright 2021 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package master

import (
	"sort"
	"sync"
	"time"
)

const (
	TaskStatusPending  = "Pending"
	TaskStatusRunning  = "Running"
	TaskStatusComplete = "Complete"
	TaskStatusFailed   = "Failed"

	TaskLoadInput         = "Load input"
	TaskFilterRatings     = "Filter ratings"
	TaskIndexIdentifiers  = "Index identifiers"
	TaskTrainFactors      = "Train factors"
	TaskSaveFactors       = "Save factors"
	TaskBuildSimilarities = "Build similarities"
	TaskWriteBooks        = "Write books"
	TaskWriteSimilarities = "Write similarities"
)

var taskOrder = []string{
	TaskLoadInput,
	TaskFilterRatings,
	TaskIndexIdentifiers,
	TaskTrainFactors,
	TaskSaveFactors,
	TaskBuildSimilarities,
	TaskWriteBooks,
	TaskWriteSimilarities,
}

// Task progress information.
type Task struct {
	Name       string
	Status     string
	Done       int
	Total      int
	Error      string
	StartTime  time.Time
	FinishTime time.Time
}

// Duration returns the elapsed time of a started task.
func (t Task) Duration() time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	if t.FinishTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.FinishTime.Sub(t.StartTime)
}

// TaskMonitor monitors the progress of all stages of a run.
type TaskMonitor struct {
	TaskLock sync.Mutex
	Tasks    map[string]*Task
	listener func(Task)
}

// NewTaskMonitor creates a TaskMonitor and add pending tasks.
func NewTaskMonitor() *TaskMonitor {
	task := make(map[string]*Task)
	for _, taskName := range taskOrder {
		task[taskName] = &Task{
			Name:   taskName,
			Status: TaskStatusPending,
		}
	}
	return &TaskMonitor{Tasks: task}
}

// SetListener registers a callback invoked with a copy of a task after each change.
func (tm *TaskMonitor) SetListener(listener func(Task)) {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	tm.listener = listener
}

// update applies f to a task and notifies the listener outside the lock.
func (tm *TaskMonitor) update(name string, create bool, f func(task *Task)) {
	tm.TaskLock.Lock()
	task, exist := tm.Tasks[name]
	if !exist {
		if !create {
			tm.TaskLock.Unlock()
			return
		}
		task = &Task{Name: name}
		tm.Tasks[name] = task
	}
	f(task)
	snapshot, listener := *task, tm.listener
	tm.TaskLock.Unlock()
	if listener != nil {
		listener(snapshot)
	}
}

// Start a task.
func (tm *TaskMonitor) Start(name string, total int) {
	tm.update(name, true, func(task *Task) {
		task.Status = TaskStatusRunning
		task.Done = 0
		task.Total = total
		task.Error = ""
		task.StartTime = time.Now()
		task.FinishTime = time.Time{}
	})
}

// Finish a task.
func (tm *TaskMonitor) Finish(name string) {
	tm.update(name, false, func(task *Task) {
		task.Status = TaskStatusComplete
		task.Done = task.Total
		task.FinishTime = time.Now()
	})
}

// Fail a task.
func (tm *TaskMonitor) Fail(name string, err error) {
	tm.update(name, false, func(task *Task) {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		task.FinishTime = time.Now()
	})
}

// Update the progress of a task.
func (tm *TaskMonitor) Update(name string, done int) {
	tm.update(name, false, func(task *Task) {
		task.Done = done
	})
}

// Add increases the progress of a task.
func (tm *TaskMonitor) Add(name string, delta int) {
	tm.update(name, false, func(task *Task) {
		task.Done += delta
	})
}

// List all tasks.
func (tm *TaskMonitor) List() []Task {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	var task []Task
	for _, t := range tm.Tasks {
		task = append(task, *t)
	}
	sort.Sort(Tasks(task))
	return task
}

// Get the progress of a task.
func (tm *TaskMonitor) Get(name string) int {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	task, exist := tm.Tasks[name]
	if exist {
		return task.Done
	}
	return 0
}

// Tasks is used to sort []Task in pipeline order.
type Tasks []Task

func (t Tasks) Len() int {
	return len(t)
}

func (t Tasks) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
}

func (t Tasks) Less(i, j int) bool {
	oi, oj := taskIndex(t[i].Name), taskIndex(t[j].Name)
	if oi != oj {
		return oi < oj
	}
	return t[i].Name < t[j].Name
}

func taskIndex(name string) int {
	for i, n := range taskOrder {
		if n == name {
			return i
		}
	}
	return len(taskOrder)
}

// TaskTracker tracks the progress of a task.
type TaskTracker struct {
	Name    string
	Monitor *TaskMonitor
}

// NewTaskTracker creates a TaskTracker from TaskMonitor.
func (tm *TaskMonitor) NewTaskTracker(name string) *TaskTracker {
	return &TaskTracker{
		Name:    name,
		Monitor: tm,
	}
}

// Start the task.
func (tt *TaskTracker) Start(total int) {
	tt.Monitor.Start(tt.Name, total)
}

// Update the progress of this task.
func (tt *TaskTracker) Update(done int) {
	tt.Monitor.Update(tt.Name, done)
}

// Add one step to the progress of this task.
func (tt *TaskTracker) Add() {
	tt.Monitor.Add(tt.Name, 1)
}

// Finish the task.
func (tt *TaskTracker) Finish() {
	tt.Monitor.Finish(tt.Name)
}

// Fail the task.
func (tt *TaskTracker) Fail(err error) {
	tt.Monitor.Fail(tt.Name, err)
}
