package repository

import (
	"context"
	"time"
)

// Tier es el nivel de suscripción. Orden: free < pro < team < enterprise.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{TierFree: 0, TierPro: 1, TierTeam: 2, TierEnterprise: 3}

// Valid reporta si t pertenece al conjunto conocido.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reporta si t es igual o superior a min.
func (t Tier) AtLeast(min Tier) bool {
	a, ok1 := tierRank[t]
	b, ok2 := tierRank[min]
	return ok1 && ok2 && a >= b
}

// User representa la identidad canónica local.
type User struct {
	ID             string
	Email          string
	Provider       string
	ProviderUserID string
	OrganizationID *string
	Tier           Tier
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActiveAt   *time.Time
}

// Profile es el perfil creado junto con el usuario en su primer login.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateUserInput contiene los datos para crear usuario + perfil.
type CreateUserInput struct {
	Email          string
	Provider       string
	ProviderUserID string
	OrganizationID *string
	Tier           Tier
	DisplayName    string
	AvatarURL      string
}

// UserRepository define operaciones sobre usuarios y perfiles.
type UserRepository interface {
	// GetByProvider busca por (provider, provider_user_id).
	// Retorna ErrNotFound si no existe.
	GetByProvider(ctx context.Context, provider, providerUserID string) (*User, error)

	// GetByID busca por ID. Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, userID string) (*User, error)

	// CreateWithProfile crea usuario y perfil en una sola transacción.
	// Retorna ErrConflict si (provider, provider_user_id) ya existe.
	CreateWithProfile(ctx context.Context, input CreateUserInput) (*User, *Profile, error)

	// GetProfile obtiene el perfil de un usuario.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// TouchLastActive actualiza last_active_at.
	TouchLastActive(ctx context.Context, userID string, at time.Time) error

	// SetActive activa o desactiva un usuario.
	SetActive(ctx context.Context, userID string, active bool) error

	// Ping verifica conexión al backend.
	Ping(ctx context.Context) error
}
