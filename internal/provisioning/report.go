package provisioning

import (
	"fmt"
	"strings"
	"time"
)

type Step string

const (
	StepAccount        Step = "account"
	StepSubUser        Step = "sub_user"
	StepApplication    Step = "application"
	StepScenarios      Step = "scenarios"
	StepRules          Step = "rules"
	StepServiceAccount Step = "service_account"
	StepCallback       Step = "callback"
)

// repairSteps run against an account that already exists.
var repairSteps = []Step{
	StepSubUser,
	StepApplication,
	StepScenarios,
	StepRules,
	StepServiceAccount,
	StepCallback,
}

type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

type StepResult struct {
	Step   Step       `json:"step"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func stepOK(step Step, detail string) StepResult {
	return StepResult{Step: step, Status: StepOK, Detail: detail}
}

func stepSkipped(step Step, detail string) StepResult {
	return StepResult{Step: step, Status: StepSkipped, Detail: detail}
}

func stepFailed(step Step, detail string, err error) StepResult {
	r := StepResult{Step: step, Status: StepFailed, Detail: detail}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Report is the outcome of one Provision or Repair run.
type Report struct {
	TenantID          string       `json:"tenant_id"`
	AccountID         string       `json:"account_id,omitempty"`
	ProviderAccountID string       `json:"provider_account_id,omitempty"`
	Steps             []StepResult `json:"steps"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at"`
}

// OK reports whether no step failed. Skipped steps do not count as failures.
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

func (r Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			out = append(out, s)
		}
	}
	return out
}

func (r Report) Step(step Step) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepResult{}, false
}

// Summary is a one-line description suitable for logs and audit entries.
func (r Report) Summary() string {
	parts := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		parts = append(parts, fmt.Sprintf("%s=%s", s.Step, s.Status))
	}
	return strings.Join(parts, " ")
}
