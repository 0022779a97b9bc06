// Package queue delivers pipeline jobs to workers. A job whose handler
// returns an error is delivered again after an exponential backoff delay.
package queue

import (
	"encoding/json"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
)

// Topic is the watermill topic jobs are published on.
const Topic = "coursepipe.jobs"

const (
	DefaultBaseDelay = 5 * time.Second
	DefaultMaxDelay  = 5 * time.Minute
)

// Backoff computes the redelivery delay of a failed job.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
}

// Delay returns the wait before the attempt following the given failed
// attempt: Base * 2^(attempt-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for range attempt - 1 {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}

	return min(delay, b.Max)
}

// retry returns the job that redelivers a failed one.
func retry(job models.Job) models.Job {
	job.Attempt++

	return job
}

func encode(job models.Job) ([]byte, error) {
	return json.Marshal(job)
}

func decode(payload []byte) (models.Job, error) {
	var job models.Job
	err := json.Unmarshal(payload, &job)

	return job, err
}
