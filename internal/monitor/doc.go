// Package monitor supervises a single external worker process.
//
// # Overview
//
// A Process launches a command, merges its stdout and stderr into one
// stream, persists every line to a log file and watches the stream for a
// readiness pattern. Run returns once the pattern has matched:
//
//	proc, err := monitor.New(monitor.Config{
//	    Name:         "mineflayer_bot1",
//	    Command:      []string{"node", "index.js", "3000"},
//	    ReadyPattern: `Server started on port (\d+)`,
//	    LogDir:       "logs/mineflayer_bot1",
//	}, logger)
//	if err := proc.Run(ctx); err != nil { ... }
//
// # Liveness
//
// A dedicated goroutine waits on the OS process, so IsRunning flips to
// false as soon as the process exits even when nobody called Stop.
//
// # Termination
//
// Stop sends SIGTERM to the whole process group, waits StopGrace and then
// sends SIGKILL. It is idempotent and safe on a process that already
// exited.
package monitor
