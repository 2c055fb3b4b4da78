// Package logging provides structured logging for devbrain.
//
// The package wraps Zap with:
//   - A Trace level (-2, below Debug)
//   - Context field injection (trace_id, project, run id)
//   - Redaction of sensitive keys and values
//
// Logs go to stderr. Stdout belongs to supervised commands, whose output
// must pass through untouched.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithProject(ctx, "api")
//	logger.Info(ctx, "analysis stored", zap.String("path", p))
//
// Services accept a *zap.Logger; pass logger.Underlying().
package logging
