// Package repository define los contratos del Credential Store relacional.
//
// Estas interfaces son independientes del almacenamiento subyacente.
//
//	┌─────────────────────────────────────────────────────┐
//	│   directory / session / mfa / authority             │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  UserRepository, RBACRepository, MFARepository      │
//	└─────────────────────────────────────────────────────┘
//	                 │                    │
//	                 ▼                    ▼
//	        ┌─────────────┐      ┌─────────────┐
//	        │  store/pg   │      │ store/memory│
//	        └─────────────┘      └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Los drivers traducen sus errores nativos a los sentinels de errors.go
//   - Los usuarios nunca se borran; solo se desactivan
package repository
