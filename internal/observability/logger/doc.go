// Package logger centraliza el logging estructurado del servicio sobre zap.
//
// Uso típico:
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: "info", ServiceName: "capyauth"})
//	defer logger.Sync()
//
//	logger.L().Info("listo", logger.Component("bridge"))
//
// Los middlewares inyectan un logger "scoped" (request_id, method, path) en el
// contexto; los handlers lo recuperan con logger.From(ctx).
package logger
