package repository

// Store agrupa los tres contratos; ambos drivers los implementan en un solo tipo.
type Store interface {
	UserRepository
	RBACRepository
	MFARepository
}
