package reliability

import (
	"context"
	"io"

	"meetroom/internal/core/ports"
	"meetroom/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// StorageWrapper guards object storage with a circuit breaker so a storage
// outage fails uploads fast instead of holding every retry for the full
// request timeout. Retries stay with the caller.
type StorageWrapper struct {
	storage        ports.ObjectStorage
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.SugaredLogger
}

func NewStorageWrapper(storage ports.ObjectStorage, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *StorageWrapper {
	wrapper := &StorageWrapper{
		storage:        storage,
		circuitBreaker: circuitbreaker.New(cbConfig),
		logger:         logger,
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("storage circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *StorageWrapper) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	return circuitbreaker.ExecuteWithResult(ctx, w.circuitBreaker, func() (string, error) {
		return w.storage.Upload(ctx, key, data, size, contentType)
	})
}

// Stats reports the breaker state for health checks.
func (w *StorageWrapper) Stats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
