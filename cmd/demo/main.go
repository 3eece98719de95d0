// demo dials a primary endpoint through the failover engine with a pool
// of alternates and logs every lifecycle notification. Pair it with
// cmd/tools/flakyserver.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"

	"github.com/nlbkit/failover/internal/metrics"
	"github.com/nlbkit/failover/pkg/endpoint"
	"github.com/nlbkit/failover/pkg/failover"
	"github.com/nlbkit/failover/pkg/socket"
)

type Config struct {
	Primary     string          `envconfig:"DEMO_PRIMARY,optional"`
	Pool        string          `envconfig:"DEMO_POOL,optional"`
	StatsdAddr  string          `envconfig:"STATSD_ADDR,optional"`
	LoggerLevel string          `envconfig:"LOGGER_LEVEL,optional"`
	Engine      failover.Config `envconfig:"optional"`
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
		Primary: "127.0.0.1:4010",
		Pool:    "127.0.0.1:4011,127.0.0.1:4012",
	}
	if err := envconfig.Init(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to read demo config")
	}
	log.Logger = log.Level(loggerLevelFromString(cfg.LoggerLevel))

	var stats failover.Stats
	if cfg.StatsdAddr != "" {
		stats = metrics.NewStatsd("demo", cfg.StatsdAddr)
	}
	engine := failover.New(cfg.Engine, log.Logger, stats)
	defer engine.End(true)

	pool, err := endpoint.Parse(strings.Split(cfg.Pool, ","))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse pool endpoints")
	}
	for _, addr := range pool {
		engine.Push(addr)
	}

	engine.On(failover.EventFailover, func(args ...any) {
		log.Warn().Msgf("failover: %v -> %v", args[0], args[1])
	})
	engine.On(failover.EventUpgraded, func(args ...any) {
		log.Info().Msgf("upgraded: %v -> %v", args[0], args[1])
	})
	engine.On(failover.EventDeath, func(args ...any) {
		log.Error().Msgf("death: %v", args[0])
	})

	primary, err := endpoint.FromString(cfg.Primary)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse primary endpoint")
	}
	conn, err := socket.Dial(ctx, primary, time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial primary")
	}
	engine.Connect(conn)

	conn.On(socket.EventData, func(args ...any) {
		buf, _ := args[0].([]byte)
		log.Info().Msgf("echo: %s", strings.TrimSpace(string(buf)))
	})

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			snap := engine.Metrics()
			log.Info().
				Uint64("attempts", snap.Attempts).
				Uint64("successes", snap.Successes).
				Uint64("failures", snap.Failures).
				Dur("downtime", snap.Downtime).
				Msg("final counters")
			return
		case t := <-ticker.C:
			if _, err := conn.Write([]byte(t.Format(time.TimeOnly) + "\n")); err != nil {
				log.Debug().Err(err).Msg("write failed, waiting for migration")
			}
		}
	}
}
