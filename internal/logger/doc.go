// Package logger provides logging facilities for the gitchunk application.
//
// It defines the Logger interface used by every component and DefaultLogger,
// its standard implementation. DefaultLogger keeps two audiences apart:
//
//   - the log file receives JSON records produced by zap, one per call, with
//     the run id attached so records from one run can be grouped;
//   - the terminal receives short, coloured messages prefixed with an emoji.
//
// # Message Types
//
//   - Info: file only
//   - Warning: file, and stdout when verbose
//   - Error: file, and always stderr
//   - InfoToUser, WarningToUser, Success: file and stdout
//   - StatusMessage: stdout only, used for plan tables and summaries
//
// # Usage
//
//	log := logger.New(true, "/path/to/gitchunk.log", true, zap.String("run_id", id))
//	defer log.Close()
//
//	log.Info("planning %d files", n)
//	log.Success("batch %d pushed", i)
//
// When file logging is disabled the zap side is a no-op logger, so calls stay
// cheap and the terminal output is unchanged.
//
// DefaultLogger is safe for concurrent use.
package logger
