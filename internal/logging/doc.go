// Package logging provides structured logging for almseed on top of Zap.
//
// The Logger adds:
//   - a Trace level (-2, below Debug)
//   - correlation fields read from the context (trace_id, span_id, session.id,
//     request.id, pipeline, project.id)
//   - secret redaction at the encoder (field names and value patterns)
//   - per-level sampling (errors are never sampled)
//
// # Usage
//
//	lcfg, err := logging.FromAppConfig(cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(lcfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithPipeline(ctx, "status-update")
//	ctx = logging.WithProjectID(ctx, 42)
//	logger.Info(ctx, "items updated", zap.Int("count", n))
//
// Components that only need a *zap.Logger take Underlying().
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "connected")
//	tl.AssertLogged(t, zapcore.InfoLevel, "connected")
//	tl.AssertNoSecrets(t)
package logging
