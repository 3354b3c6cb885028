package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AsyncCacheSet actualiza la caché en background sin bloquear la petición.
// Con g la escritura se descarta si la clave se invalidó después de version.
func AsyncCacheSet(c Cache, g *Guard, key string, version uint64, value interface{}, ttl time.Duration, log *zap.Logger) {
	if c == nil {
		return
	}

	go func() {
		// Contexto propio: la petición original puede haber terminado ya.
		cacheCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		var err error
		if g != nil {
			var stored bool
			stored, err = g.SetIfCurrent(cacheCtx, c, key, version, value, ttl)
			if err == nil && !stored {
				log.Debug("Cache update skipped, key invalidated meanwhile", zap.String("key", key))
			}
		} else {
			err = c.Set(cacheCtx, key, value, ttl)
		}
		if err != nil {
			log.Warn("Cache update failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}
