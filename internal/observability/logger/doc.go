// Package logger expone un logger Zap de proceso con scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia inicializada con Init() desde main.
//   - Context Scoping: cada request/operación puede llevar su propio logger con campos
//     (request_id, user_id, session_id) sin crear un nuevo core.
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON.
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("mfa.verify"))
//	log.Info("code accepted", logger.UserID(userID))
//
// Los componentes del core reciben sus dependencias por constructor; el logger es la única
// excepción porque es transversal y no participa en las decisiones de autorización.
package logger
