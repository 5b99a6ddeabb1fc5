// Package scheduler implements the scheduled reconciliation jobs.
//
// The sweep re-checks pending checkout invoices whose webhook never arrived
// and applies confirmed settlements through the reconciliation engine. It
// runs from the cmd/sweeper Lambda on an EventBridge schedule.
package scheduler

import "time"

// JobSweep is the job_history job type and job lock prefix of the sweep.
const JobSweep = "pending_invoice_sweep"

// SweepPayload is the EventBridge input of the sweeper Lambda.
//
//	{
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type SweepPayload struct {
	// ReferenceTime overrides "now" for manual invocation. If nil,
	// time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
