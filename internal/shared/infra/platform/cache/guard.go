package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const guardStripes = 64

// Guard impide que una lectura lenta vuelva a cachear un valor que una
// escritura ya invalidó. Cada clave cae en una franja con su generación;
// Invalidate la avanza y SetIfCurrent sólo escribe si no ha cambiado.
// El valor cero está listo para usarse.
type Guard struct {
	stripes [guardStripes]guardStripe
}

type guardStripe struct {
	mu  sync.Mutex
	gen uint64
}

func (g *Guard) stripe(key string) *guardStripe {
	return &g.stripes[xxhash.Sum64String(key)%guardStripes]
}

// Version se toma antes de leer el origen.
func (g *Guard) Version(key string) uint64 {
	st := g.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

// SetIfCurrent guarda val si nadie invalidó la clave desde version.
// Devuelve false cuando descarta la escritura.
func (g *Guard) SetIfCurrent(ctx context.Context, c Cache, key string, version uint64, val interface{}, ttl time.Duration) (bool, error) {
	st := g.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != version {
		return false, nil
	}
	return true, c.Set(ctx, key, val, ttl)
}

// Invalidate avanza la generación y borra la clave.
func (g *Guard) Invalidate(ctx context.Context, c Cache, key string) error {
	st := g.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++
	return c.Delete(ctx, key)
}
