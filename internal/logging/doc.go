// Package logging provides structured logging for webpair sessions.
//
// Records are JSON lines produced by log/slog. A [Logger] carries persistent
// attributes so each component of a session can tag its output:
//
//	logger, err := logging.NewLogger(stateDir, logging.LevelInfo)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessLog := logger.WithSession(id).WithComponent("lifecycle")
//	sessLog.Info("lifecycle transition", "from", "QrReady", "to", "Connected")
//
// Components accept a nil *Logger and substitute [NopLogger].
//
// # Thread Safety
//
// A Logger and all of its children may be used from any goroutine.
package logging
