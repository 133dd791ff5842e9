package jobs

import (
	"errors"

	"github.com/inaiurai/credits/internal/models"
)

var (
	// ErrDispatchFailed means the provider refused the submission. The job is failed and uncharged.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrProviderFailed means the provider accepted the job and later reported failure.
	ErrProviderFailed = errors.New("provider failed")
	// ErrPollTimeout means the polling window closed without a result. The
	// outcome is unknown; the job is uncharged.
	ErrPollTimeout = errors.New("poll timeout")
	// ErrCanceled means the owner canceled the job before it finished.
	ErrCanceled = errors.New("canceled")

	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already finished")
	ErrInvalidCost = errors.New("cost quote must be positive")
)

// User-facing outcome messages.
const (
	MessageProcessing     = "Your request is being generated."
	MessageCompleted      = "Your result is ready."
	MessageDispatchFailed = "We could not start this generation. You have not been charged."
	MessageProviderFailed = "The generation failed. You have not been charged."
	MessageTimeout        = "This is taking longer than expected. You have not been charged. If the result finishes later it will appear in your inbox, so please check back there."
	MessageCanceled       = "The request was canceled. You have not been charged."
)

// Outcome classifies a job for the user. err is nil for processing and
// completed jobs.
func Outcome(j *models.GenerationJob) (message string, err error) {
	switch j.Status {
	case models.JobStatusProcessing:
		return MessageProcessing, nil
	case models.JobStatusCompleted:
		return MessageCompleted, nil
	case models.JobStatusFailed:
		if !j.Dispatched() {
			return MessageDispatchFailed, ErrDispatchFailed
		}
		return MessageProviderFailed, ErrProviderFailed
	case models.JobStatusTimeout:
		return MessageTimeout, ErrPollTimeout
	case models.JobStatusCanceled:
		return MessageCanceled, ErrCanceled
	}
	return "", nil
}
