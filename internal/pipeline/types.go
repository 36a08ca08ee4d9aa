package pipeline

import (
	"fmt"
	"strings"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/maskfilter"
	"coral-lat/internal/project"
)

// State is the lifecycle of a build run.
type State string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED"
)

// Input names one image to process. ImagePath wins over ImageURL, which must be a
// base64 data URL.
type Input struct {
	ImageFileName string `json:"image_file_name"`
	ImagePath     string `json:"image_path,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
}

// Request starts a project build.
type Request struct {
	Inputs           []Input               `json:"inputs"`
	Config           maskfilter.Thresholds `json:"config"`
	NeedSegmentation bool                  `json:"need_segmentation"`
	OutputFile       string                `json:"output_file,omitempty"`
	Overwrite        bool                  `json:"overwrite,omitempty"`
}

// Validate checks the request before any run state is created.
func (r Request) Validate() error {
	if len(r.Inputs) == 0 {
		return &apperrors.ValidationError{Field: "inputs", Message: "at least one input is required"}
	}
	stems := make(map[string]string, len(r.Inputs))
	for i, in := range r.Inputs {
		name := in.ImageFileName
		if strings.TrimSpace(name) == "" {
			return &apperrors.ValidationError{Field: fmt.Sprintf("inputs[%d].image_file_name", i), Message: "is required"}
		}
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return &apperrors.ValidationError{Field: fmt.Sprintf("inputs[%d].image_file_name", i), Message: "must be a bare file name"}
		}
		if in.ImagePath == "" && in.ImageURL == "" {
			return &apperrors.ValidationError{Field: fmt.Sprintf("inputs[%d]", i), Message: "image_path or image_url is required"}
		}
		if in.ImagePath == "" && !strings.HasPrefix(in.ImageURL, "data:") {
			return &apperrors.ValidationError{Field: fmt.Sprintf("inputs[%d].image_url", i), Message: "must be a data URL"}
		}
		stem := project.Stem(name)
		if prev, ok := stems[stem]; ok {
			return &apperrors.ValidationError{
				Field:   fmt.Sprintf("inputs[%d].image_file_name", i),
				Message: fmt.Sprintf("%s and %s share the stem %q", prev, name, stem),
			}
		}
		stems[stem] = name
	}
	if r.OutputFile != "" && !strings.HasSuffix(r.OutputFile, project.Extension) {
		return &apperrors.ValidationError{Field: "output_file", Message: "must end in " + project.Extension}
	}
	return r.Config.Validate()
}

// Status is a snapshot of the builder.
type Status struct {
	RunID       string `json:"run_id,omitempty"`
	State       State  `json:"state"`
	Progress    int    `json:"progress"`
	Total       int    `json:"total"`
	ProjectPath string `json:"project_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Outcome is delivered once per run. Finished is false for cancelled and failed
// runs; Err is set only for failures.
type Outcome struct {
	RunID       string `json:"run_id"`
	Finished    bool   `json:"finished"`
	ProjectPath string `json:"project_path,omitempty"`
	Err         error  `json:"-"`
}
