package types

import (
	"fmt"
	"strings"
)

// Status is the stable tag carried by every Outcome.
type Status string

const (
	StatusOK             Status = "ok"
	StatusSecurityError  Status = "security-error"
	StatusExecutionError Status = "execution-error"
	StatusTimeout        Status = "timeout"
	StatusAdmissionError Status = "admission-error"
)

// Outcome is the single result produced for a cell. Exactly one of the detail
// pointers is set for non-ok statuses; an ok outcome carries none.
type Outcome struct {
	Status          Status     `json:"status"`
	Stdout          string     `json:"stdout,omitempty"`
	Stderr          string     `json:"stderr,omitempty"`
	StdoutTruncated bool       `json:"stdout_truncated,omitempty"`
	StderrTruncated bool       `json:"stderr_truncated,omitempty"`
	Artifacts       []Artifact `json:"artifacts,omitempty"`
	ExecutionCount  int        `json:"execution_count,omitempty"`

	Security  *SecurityRejection  `json:"security,omitempty"`
	Failure   *RuntimeFailure     `json:"failure,omitempty"`
	Timeout   *Timeout            `json:"timeout,omitempty"`
	Admission *AdmissionRejection `json:"admission,omitempty"`
}

// SecurityRejection names the line that tripped the policy and every trigger it matched.
type SecurityRejection struct {
	Line       string   `json:"line"`
	LineNumber int      `json:"line_number"`
	Triggers   []string `json:"triggers"`
}

// RuntimeFailure carries the interpreter diagnostic.
type RuntimeFailure struct {
	Message    string `json:"message"`
	Trace      string `json:"trace,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
}

type Timeout struct {
	AfterSeconds int `json:"after_seconds"`
}

type AdmissionRejection struct {
	Limit int `json:"limit"`
}

// Artifact is a renderable payload produced as a side effect of interpretation,
// such as a plot. Data is base64 encoded when marshalled to JSON.
type Artifact struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

func Ok(stdout, stderr string, artifacts []Artifact) Outcome {
	return Outcome{Status: StatusOK, Stdout: stdout, Stderr: stderr, Artifacts: artifacts}
}

func SecurityRejected(line string, lineNumber int, triggers []string) Outcome {
	return Outcome{
		Status:   StatusSecurityError,
		Security: &SecurityRejection{Line: line, LineNumber: lineNumber, Triggers: triggers},
	}
}

func RuntimeFailed(message, trace string, lineNumber int) Outcome {
	return Outcome{
		Status:  StatusExecutionError,
		Failure: &RuntimeFailure{Message: message, Trace: trace, LineNumber: lineNumber},
	}
}

func TimedOut(afterSeconds int) Outcome {
	return Outcome{Status: StatusTimeout, Timeout: &Timeout{AfterSeconds: afterSeconds}}
}

func AdmissionRejected(limit int) Outcome {
	return Outcome{Status: StatusAdmissionError, Admission: &AdmissionRejection{Limit: limit}}
}

// Valid reports whether the status and detail fields agree.
func (o Outcome) Valid() bool {
	set := 0
	for _, present := range []bool{o.Security != nil, o.Failure != nil, o.Timeout != nil, o.Admission != nil} {
		if present {
			set++
		}
	}
	switch o.Status {
	case StatusOK:
		return set == 0
	case StatusSecurityError:
		return set == 1 && o.Security != nil
	case StatusExecutionError:
		return set == 1 && o.Failure != nil
	case StatusTimeout:
		return set == 1 && o.Timeout != nil
	case StatusAdmissionError:
		return set == 1 && o.Admission != nil
	default:
		return false
	}
}

// Message returns the human readable summary for the outcome.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusOK:
		return "execution completed"
	case StatusSecurityError:
		if o.Security == nil {
			return "security policy violation"
		}
		return fmt.Sprintf("security policy violation on line %d: blocked terms %s",
			o.Security.LineNumber, strings.Join(o.Security.Triggers, ", "))
	case StatusExecutionError:
		if o.Failure == nil {
			return "execution failed"
		}
		return "execution failed: " + o.Failure.Message
	case StatusTimeout:
		if o.Timeout == nil {
			return "execution timed out"
		}
		return fmt.Sprintf("execution timed out after %d seconds", o.Timeout.AfterSeconds)
	case StatusAdmissionError:
		if o.Admission == nil {
			return "too many concurrent executions"
		}
		return fmt.Sprintf("too many concurrent executions (limit %d), retry later", o.Admission.Limit)
	default:
		return string(o.Status)
	}
}

// Suppress drops the captured output and artifacts, keeping the status and detail.
func (o Outcome) Suppress() Outcome {
	o.Stdout, o.Stderr = "", ""
	o.StdoutTruncated, o.StderrTruncated = false, false
	o.Artifacts = nil
	return o
}
