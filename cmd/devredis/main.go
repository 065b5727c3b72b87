// Command devredis starts an in-process miniredis server so `ltq run
// --broker-url redis://127.0.0.1:6379 ...` has something to talk to
// without a real Redis install, the way the teacher's cmd/redis_server
// supported local development against its queue.Client.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/tclesius/ltq/ltqlog"
)

func main() {
	s := miniredis.NewMiniRedis()
	if err := s.StartAddr("127.0.0.1:6379"); err != nil {
		ltqlog.Log.Fatal().Err(err).Msg("failed to start devredis")
	}
	defer s.Close()

	ltqlog.Log.Info().Str("addr", s.Addr()).Msg("devredis listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ltqlog.Log.Info().Msg("devredis shutting down")
}
