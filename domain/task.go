package domain

// Task represents a single todo record.
type Task struct {
	ID          int64  `json:"id"`
	Task        string `json:"task"`
	Description string `json:"description,omitempty"`
	Complete    bool   `json:"complete"`
}

// Patch carries partial changes for a task. Nil fields are left untouched.
type Patch struct {
	Task        *string `json:"task,omitempty"`
	Description *string `json:"description,omitempty"`
	Complete    *bool   `json:"complete,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Task == nil && p.Description == nil && p.Complete == nil
}

// Apply overwrites the fields present in p onto t.
func (p Patch) Apply(t *Task) {
	if p.Task != nil {
		t.Task = *p.Task
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Complete != nil {
		t.Complete = *p.Complete
	}
}
