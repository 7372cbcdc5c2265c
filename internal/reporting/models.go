package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TaskSummaryRequest requests task outcome counts for tasks scheduled within Range.
// Tenant isolation: TenantID is required.
type TaskSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type TaskSummary struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	Total     int `json:"total"`
	Scheduled int `json:"scheduled"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	// SuccessRate is completed / (completed + failed); cancelled tasks are excluded.
	SuccessRate float64 `json:"success_rate"`
}

// FleetSummary is an operator view across all telephony accounts.
type FleetSummary struct {
	Accounts   int `json:"accounts"`
	Capable    int `json:"capable"`
	Verified   int `json:"verified"`
	WithNumber int `json:"with_number"`

	// Deficiencies counts accounts per missing prerequisite.
	Deficiencies map[string]int `json:"deficiencies"`
}
