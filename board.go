package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"hxann.com/shared-clock/board"
	"hxann.com/shared-clock/config"
	"hxann.com/shared-clock/shared"
	"hxann.com/shared-clock/transport"
	"hxann.com/shared-clock/worker"
)

func runBoard(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("board", flag.ContinueOnError)
	room := fs.String("room", "", "room code to watch")
	source := fs.String("source", "realtime", "where messages come from: realtime or queue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !shared.ValidRoomCode(*room) {
		return fmt.Errorf("missing or invalid room code %q", *room)
	}

	b := board.New()
	g, gCtx := errgroup.WithContext(ctx)
	switch *source {
	case "queue":
		if cfg.AblyQueueName == "" {
			return fmt.Errorf("ABLY_QUEUE_NAME is required for the queue source")
		}
		w := worker.New(worker.QueueURL(cfg.AblyAPIKey, cfg.AblyQueueHost), cfg.AblyQueueName,
			func(roomCode string, msg shared.Message) {
				if roomCode == *room {
					b.HandleMessage(msg)
				}
			}, log.Logger)
		g.Go(func() error { return w.Run(gCtx) })
	case "realtime":
		tr, closeTransport, err := newTransport(cfg, "board")
		if err != nil {
			return err
		}
		defer closeTransport()
		ch := transport.NewRoomChannel(tr, *room, log.Logger)
		sub, err := ch.Subscribe(gCtx, b.HandleMessage)
		if err != nil {
			return err
		}
		defer ch.Unsubscribe(sub)
	default:
		return fmt.Errorf("unknown source %q", *source)
	}

	g.Go(func() error { return board.NewServer(b, log.Logger).ListenAndServe(gCtx, cfg.BoardAddr) })
	log.Info().Str("room", *room).Str("source", *source).Msg("Board watching room")
	return g.Wait()
}
