package a2a

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Task store errors.
var (
	ErrTaskNotFound      = errors.New("a2a: task not found")
	ErrTaskAlreadyExists = errors.New("a2a: task already exists")
	ErrInvalidTransition = errors.New("a2a: invalid state transition")
	ErrTaskTerminal      = errors.New("a2a: task is in a terminal state")
)

// terminalStates are states from which no further transitions are allowed.
var terminalStates = map[TaskState]bool{
	TaskStateCompleted: true,
	TaskStateFailed:    true,
	TaskStateCanceled:  true,
}

// validTransitions defines the allowed state machine transitions. Task
// state is monotonic except for the working/input-required loop.
var validTransitions = map[TaskState]map[TaskState]bool{
	TaskStateSubmitted: {
		TaskStateWorking:  true,
		TaskStateCanceled: true,
	},
	TaskStateWorking: {
		TaskStateCompleted:     true,
		TaskStateFailed:        true,
		TaskStateCanceled:      true,
		TaskStateInputRequired: true,
	},
	TaskStateInputRequired: {
		TaskStateWorking:  true,
		TaskStateCanceled: true,
	},
}

// IsTerminal reports whether state admits no further transitions.
func IsTerminal(state TaskState) bool {
	return terminalStates[state]
}

// TaskStore defines the interface for task persistence and lifecycle
// management.
type TaskStore interface {
	Create(taskID, contextID string) (*Task, error)
	Get(taskID string) (*Task, error)
	SetState(taskID string, state TaskState, msg *Message) error
	AddArtifacts(taskID string, artifacts []Artifact) error
	Cancel(taskID string) error
	List(contextID string, limit, offset int) ([]*Task, error)
}

// InMemoryTaskStore is a concurrency-safe, in-memory implementation of
// TaskStore.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	// TimeFunc returns the current time. Tests override it for
	// deterministic timestamps.
	TimeFunc func() time.Time
}

// NewInMemoryTaskStore creates a new InMemoryTaskStore.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks:    make(map[string]*Task),
		TimeFunc: time.Now,
	}
}

func (s *InMemoryTaskStore) now() time.Time {
	return s.TimeFunc().UTC()
}

// Create initializes a new task in the submitted state.
func (s *InMemoryTaskStore) Create(taskID, contextID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; exists {
		return nil, ErrTaskAlreadyExists
	}

	now := s.now()
	task := &Task{
		ID:        taskID,
		ContextID: contextID,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: &now,
		},
	}
	s.tasks[taskID] = task

	return task, nil
}

// Get retrieves a task by ID.
func (s *InMemoryTaskStore) Get(taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// SetState transitions the task to a new state with an optional status
// message.
func (s *InMemoryTaskStore) SetState(taskID string, state TaskState, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	current := task.Status.State

	if terminalStates[current] {
		return fmt.Errorf("%w: cannot transition from terminal state %q", ErrTaskTerminal, current)
	}

	allowed, ok := validTransitions[current]
	if !ok || !allowed[state] {
		return fmt.Errorf("%w: %q to %q", ErrInvalidTransition, current, state)
	}

	now := s.now()
	task.Status = TaskStatus{
		State:     state,
		Message:   msg,
		Timestamp: &now,
	}
	return nil
}

// AddArtifacts appends artifacts to a task.
func (s *InMemoryTaskStore) AddArtifacts(taskID string, artifacts []Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Artifacts = append(task.Artifacts, artifacts...)
	return nil
}

// Cancel transitions the task to the canceled state from any non-terminal
// state.
func (s *InMemoryTaskStore) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	if terminalStates[task.Status.State] {
		return fmt.Errorf("%w: cannot cancel task in terminal state %q", ErrTaskTerminal, task.Status.State)
	}

	now := s.now()
	task.Status = TaskStatus{
		State:     TaskStateCanceled,
		Timestamp: &now,
	}
	return nil
}

// List returns tasks matching the given contextID ordered by creation,
// oldest first. If contextID is empty, all tasks are returned. Offset and
// limit control pagination.
func (s *InMemoryTaskStore) List(contextID string, limit, offset int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Task
	for _, task := range s.tasks {
		if contextID == "" || task.ContextID == contextID {
			matched = append(matched, task)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		ti, tj := matched[i].Status.Timestamp, matched[j].Status.Timestamp
		if ti == nil || tj == nil {
			return matched[i].ID < matched[j].ID
		}
		if ti.Equal(*tj) {
			return matched[i].ID < matched[j].ID
		}
		return ti.Before(*tj)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]

	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, nil
}
