// Package cache provee el almacén volátil de credenciales con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process via go-cache, para desarrollo/testing)
//   - Redis (distribuido, para producción)
//
// Guarda los hashes de refresh tokens por sesión y los replay markers de MFA.
// Las operaciones atómicas (GetAndDelete, SetNX) son las que cierran las carreras
// de rotación y de replay; ambos drivers las implementan sin ventana intermedia.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL opcional.
	// Si ttl es 0 usa el default del driver (redis: no expira).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// Exists verifica si una key existe.
	Exists(ctx context.Context, key string) (bool, error)

	// GetAndDelete obtiene y elimina atómicamente. Retorna ErrNotFound si no existe.
	GetAndDelete(ctx context.Context, key string) (string, error)

	// SetNX establece solo si la clave no existe.
	// Retorna true si se estableció, false si ya existía.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// DeleteByPrefix elimina todas las claves con un prefijo y retorna cuántas borró.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error

	// Stats retorna estadísticas del cache.
	Stats(ctx context.Context) (Stats, error)
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Driver     string
	Keys       int64
	UsedMemory string
	Hits       int64
	Misses     int64
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver     string // "memory" | "redis"
	Addr       string // host:port (redis)
	Password   string
	DB         int
	Prefix     string        // Prefijo para todas las keys
	DefaultTTL time.Duration // memory: TTL para Set con ttl 0
}

// Errores de cache.
var (
	ErrNotFound = errNotFound{}
)

type errNotFound struct{}

func (e errNotFound) Error() string { return "cache: key not found" }

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New crea un cliente de cache según la configuración.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		c, err := NewRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "memory", "":
		return NewMemory(cfg.Prefix, cfg.DefaultTTL), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
