// ABOUTME: Minimal fake bot worker for local end-to-end runs of coven-voyage.
// ABOUTME: Usage: fake-worker [-terminate-after N] [-startup-delay D] <port>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func main() {
	terminateAfter := flag.Int("terminate-after", 0, "report a terminated episode on this step (0 never)")
	startupDelay := flag.Duration("startup-delay", 0, "delay before binding the port")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: fake-worker [flags] <port>")
		os.Exit(2)
	}
	// The supervisor appends the port as the last argument.
	port, err := strconv.Atoi(flag.Arg(flag.NArg() - 1))
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", flag.Arg(flag.NArg()-1))
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("port", port)

	if err := run(port, *startupDelay, workerOptions{TerminateAfter: *terminateAfter}, logger); err != nil {
		logger.Error("fake worker failed", "error", err)
		os.Exit(1)
	}
}

func run(port int, startupDelay time.Duration, opts workerOptions, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case <-time.After(startupDelay):
	case <-ctx.Done():
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := &http.Server{
		Handler:           newWorker(opts, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Readiness line the supervisor's monitor waits for.
	fmt.Printf("Server started on port %d\n", port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
