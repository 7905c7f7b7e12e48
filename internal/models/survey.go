package models

// Field types understood by the sync worker. Other values are stored as-is.
const (
	FieldTypeText           = "text"
	FieldTypeNumber         = "number"
	FieldTypeDate           = "date"
	FieldTypeMultipleChoice = "multiple_choice"
	FieldTypePhoto          = "photo"
	FieldTypeDropPin        = "drop_pin"
)

// Field describes one input a task asks for.
type Field struct {
	ID       string   `json:"id" yaml:"id"`
	Label    string   `json:"label" yaml:"label"`
	Type     string   `json:"type" yaml:"type"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Options  []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Task is the schema a submission fills in.
type Task struct {
	ID     string  `json:"id" yaml:"id"`
	Label  string  `json:"label" yaml:"label"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field returns the field with the given id.
func (t *Task) Field(id string) (Field, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

type Job struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Task returns the task with the given id, if it belongs to this job.
func (j *Job) Task(id string) (Task, bool) {
	for _, t := range j.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

type Survey struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Jobs        []Job  `json:"jobs" yaml:"jobs"`
}

// Job returns the job with the given id.
func (s *Survey) Job(id string) (Job, bool) {
	for _, j := range s.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}
