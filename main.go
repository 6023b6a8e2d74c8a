package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"hxann.com/shared-clock/authority"
	"hxann.com/shared-clock/config"
	"hxann.com/shared-clock/transport"
)

const usage = `usage: shared-clock <role> [flags]

roles:
  presenter [-room CODE]                  own a room and change its state
  player -room CODE                       join a room and watch the clock
  board -room CODE [-source realtime|queue] aggregate what every player sees
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	cfg := config.Load()
	zerolog.SetGlobalLevel(cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("role", os.Args[1]).Str("transport", cfg.Transport).Msg("Starting")

	var err error
	switch role, args := os.Args[1], os.Args[2:]; role {
	case "presenter":
		err = runPresenter(ctx, cfg, args)
	case "player":
		err = runPlayer(ctx, cfg, args)
	case "board":
		err = runBoard(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Msg("Exiting with error")
		stop()
		os.Exit(1)
	}

	log.Info().Msg("Exiting")
}

type closer func()

func newTransport(cfg *config.Config, clientID string) (transport.Transport, closer, error) {
	switch cfg.Transport {
	case config.TransportAbly:
		if cfg.AblyAPIKey == "" {
			return nil, nil, fmt.Errorf("ABLY_API_KEY is required for the ably transport")
		}
		if cfg.AblyClientID != "" {
			clientID = cfg.AblyClientID
		}
		a, err := transport.NewAbly(cfg.AblyAPIKey, clientID)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	case config.TransportNATS:
		n, err := transport.NewNATS(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func newLease(cfg *config.Config) (authority.Lease, closer, error) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set: rooms are not claimed, run one presenter per room code")
		return authority.NopLease{}, func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	return authority.NewRedisLease(rdb, authority.LeaseTTL), func() { _ = rdb.Close() }, nil
}
