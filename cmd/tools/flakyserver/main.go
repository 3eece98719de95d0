// flakyserver is a TCP echo server that drops every accepted connection
// after a configured lifetime. It exists to exercise the failover engine
// by hand: point the demo at several flakyserver ports and watch the
// connections migrate.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"
	"golang.org/x/time/rate"
)

type Config struct {
	ListenAddrs  string        `envconfig:"FLAKY_LISTEN_ADDRS,optional"`
	ConnLifetime time.Duration `envconfig:"FLAKY_CONN_LIFETIME,optional"`
	AcceptRate   float64       `envconfig:"FLAKY_ACCEPT_RATE,optional"`
	LoggerLevel  string        `envconfig:"LOGGER_LEVEL,optional"`
}

func loggerLevelFromString(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := Config{
		ListenAddrs:  "127.0.0.1:4010,127.0.0.1:4011,127.0.0.1:4012",
		ConnLifetime: 5 * time.Second,
		AcceptRate:   20,
	}
	if err := envconfig.Init(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to read flakyserver config")
	}
	log.Logger = log.Level(loggerLevelFromString(cfg.LoggerLevel))

	// shared limiter across listeners so a reconnect storm cannot
	// monopolize the accept loops
	limiter := rate.NewLimiter(rate.Limit(cfg.AcceptRate), int(cfg.AcceptRate))

	for _, addr := range strings.Split(cfg.ListenAddrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		go serve(ctx, addr, cfg.ConnLifetime, limiter)
	}

	<-ctx.Done()
}

func serve(ctx context.Context, addr string, lifetime time.Duration, limiter *rate.Limiter) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to listen")
	}
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()
	log.Info().Str("addr", addr).Msg("flaky listener up")

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("addr", addr).Msg("accept failed")
			continue
		}
		go handle(conn, lifetime)
	}
}

func handle(conn net.Conn, lifetime time.Duration) {
	log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("accepted")
	killer := time.AfterFunc(lifetime, func() {
		log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("dropping connection")
		_ = conn.Close()
	})
	defer killer.Stop()
	defer conn.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
