/*
Package log provides structured logging for the kernel using zerolog.

It wraps zerolog to give every package a component-tagged logger
(WithComponent, WithNodeID, WithFrameID, WithAgentID, WithWorkerID)
writing either JSON or console-formatted output, matching the logging
conventions used throughout the rest of the runtime.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	frameLog := log.WithComponent("frame").With().Str("fid", fid).Logger()
	frameLog.Info().Msg("frame started")
*/
package log
