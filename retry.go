package analytics_transport

import (
	"time"

	"go.uber.org/zap"
)

// RetryController decides what happens to a batch after each attempt.
// It is owned by a Pipeline and only used under the pipeline's lock.
type RetryController struct {
	config     *RetryConfig
	logger     *zap.Logger
	metrics    *metricsCollector
	retryCount int
}

// NewRetryController creates a new retry controller
func NewRetryController(config *RetryConfig, logger *zap.Logger, metrics *metricsCollector) *RetryController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = newMetricsCollector()
	}
	return &RetryController{
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// ShouldRetry records a retryable failure of batch and returns the
// delay before the next attempt. It returns false once the batch has
// used up its attempts; the batch is then dropped and the count reset.
func (rc *RetryController) ShouldRetry(batch *Batch, result Result) (time.Duration, bool) {
	if rc.retryCount >= rc.config.MaxAttempts {
		rc.logger.Warn("Batch exceeded max retry attempts, dropping",
			zap.Int("batch_size", batch.Len()),
			zap.Int("attempts", rc.retryCount),
			zap.Int("max_attempts", rc.config.MaxAttempts),
			zap.Int("status_code", result.StatusCode))

		rc.metrics.IncDroppedBatches()
		rc.retryCount = 0
		return 0, false
	}

	rc.retryCount++
	rc.metrics.IncRetries()

	rc.logger.Debug("Scheduling batch retry",
		zap.Int("batch_size", batch.Len()),
		zap.Int("attempt", rc.retryCount),
		zap.Duration("retry_after", result.RetryAfter),
		zap.Int("status_code", result.StatusCode))

	return result.RetryAfter, true
}

// Succeeded resets the retry count after a delivered batch and logs a
// recovery when the batch needed at least one retry.
func (rc *RetryController) Succeeded(batch *Batch) {
	rc.metrics.IncSentBatches()

	if rc.retryCount > 0 {
		rc.logger.Info("Batch delivery recovered",
			zap.Int("batch_size", batch.Len()),
			zap.Int("retries", rc.retryCount))
		rc.metrics.IncRecovered()
	}
	rc.retryCount = 0
}

// Failed drops a batch after a terminal or network failure
func (rc *RetryController) Failed(batch *Batch, result Result) {
	rc.metrics.IncFailedBatches()

	rc.logger.Debug("Dropping batch after terminal failure",
		zap.Int("batch_size", batch.Len()),
		zap.String("outcome", result.Outcome.String()),
		zap.Int("status_code", result.StatusCode),
		zap.Error(result.Err))
	rc.retryCount = 0
}

// Abandon drops a batch whose retry chain was cut short by shutdown
// or consent withdrawal
func (rc *RetryController) Abandon(batch *Batch) {
	rc.metrics.IncDroppedBatches()

	rc.logger.Debug("Abandoning batch awaiting retry",
		zap.Int("batch_size", batch.Len()),
		zap.Int("attempts", rc.retryCount))
	rc.retryCount = 0
}

// RetryCount returns the number of retries spent on the current batch
func (rc *RetryController) RetryCount() int {
	return rc.retryCount
}

// GetRetryStats returns retry statistics
func (rc *RetryController) GetRetryStats() map[string]interface{} {
	return map[string]interface{}{
		"max_attempts": rc.config.MaxAttempts,
		"retry_count":  rc.retryCount,
	}
}
