// Package handlers contains the building blocks of the operational HTTP
// endpoint: health checks and middleware.
//
// # Health Checks
//
// CompositeHealthChecker runs named checks in parallel, each under its own
// timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(redisClient))
//
//	status := checker.Check(ctx)
//	if !status.Healthy {
//	    log.Printf("health check failed: %s", status.Message)
//	}
//
// Optional checks show up in the report but never make the service unready.
//
// # Middleware
//
//	auth := handlers.NewAPIKeyAuth("X-Admin-Token", cfg.HTTP.AdminToken)
//	r.With(auth.Middleware).Post("/jobs/{name}/run", runJob)
//
// RequestLogger is a slog replacement for chi's stdlib-log Logger.
package handlers
