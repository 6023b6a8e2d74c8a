package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"hxann.com/shared-clock/authority"
	"hxann.com/shared-clock/config"
	"hxann.com/shared-clock/shared"
	"hxann.com/shared-clock/transport"
)

const maxClaimAttempts = 5

func runPresenter(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("presenter", flag.ContinueOnError)
	room := fs.String("room", "", "room code to host (random if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *room != "" && !shared.ValidRoomCode(*room) {
		return fmt.Errorf("room code must be 6 digits, got %q", *room)
	}

	tr, closeTransport, err := newTransport(cfg, "presenter")
	if err != nil {
		return err
	}
	defer closeTransport()

	lease, closeLease, err := newLease(cfg)
	if err != nil {
		return err
	}
	defer closeLease()

	auth, err := claimRoom(ctx, tr, lease, *room)
	if err != nil {
		return err
	}
	code := auth.State().RoomCode
	log.Info().
		Str("room", code).
		Str("join", cfg.JoinBaseURL+"/player?room="+code).
		Msg("Room created")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return auth.Run(gCtx) })
	g.Go(func() error { return presenterConsole(gCtx, auth, os.Stdin, os.Stdout) })
	return g.Wait()
}

// claimRoom creates an authority for room, or for fresh random codes until one is free.
func claimRoom(ctx context.Context, tr transport.Transport, lease authority.Lease, room string) (*authority.Authority, error) {
	for attempt := 1; ; attempt++ {
		code := room
		if code == "" {
			code = shared.GenerateRoomCode()
		}
		auth := authority.New(transport.NewRoomChannel(tr, code, log.Logger), authority.WithLease(lease))
		err := auth.Claim(ctx)
		if err == nil {
			return auth, nil
		}
		if !errors.Is(err, authority.ErrRoomClaimed) || room != "" || attempt >= maxClaimAttempts {
			return nil, err
		}
		log.Warn().Str("room", code).Int("attempt", attempt).Msg("Room code taken, trying another")
	}
}

func presenterConsole(ctx context.Context, auth *authority.Authority, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "commands: 1, 2, +30s, -30s, +5m, -5m, random, reset, state")
	input := lines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			cmd, err := parsePresenterCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			fmt.Fprintln(out, describeState(applyPresenterCommand(ctx, auth, cmd)))
		}
	}
}

func applyPresenterCommand(ctx context.Context, auth *authority.Authority, cmd parsedCommand) shared.RoomState {
	switch cmd.kind {
	case cmdSetRound:
		s, _ := auth.SetRound(ctx, cmd.round)
		return s
	case cmdAdjust:
		return auth.AdjustTime(ctx, cmd.delta.Milliseconds())
	case cmdRandom:
		return auth.RandomJump(ctx)
	case cmdReset:
		return auth.ResetToNow(ctx)
	}
	return auth.State()
}
