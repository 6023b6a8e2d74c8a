package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"hxann.com/shared-clock/config"
	"hxann.com/shared-clock/identity"
	"hxann.com/shared-clock/observer"
	"hxann.com/shared-clock/shared"
	"hxann.com/shared-clock/ticker"
)

var errInvalidRoomCode = errors.New("invalid room code")

func runPlayer(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("player", flag.ContinueOnError)
	room := fs.String("room", "", "room code to join")
	if err := fs.Parse(args); err != nil {
		return err
	}
	code := strings.TrimSpace(*room)
	if code == "" {
		fmt.Fprintln(os.Stderr, "Missing room code. Run: shared-clock player -room 123456")
		return observer.ErrNotJoined
	}
	if !shared.ValidRoomCode(code) {
		return fmt.Errorf("%w: %q", errInvalidRoomCode, code)
	}

	playerID, err := identity.LoadOrCreate(cfg.PlayerIDFile)
	if err != nil {
		return err
	}

	tr, closeTransport, err := newTransport(cfg, playerID)
	if err != nil {
		return err
	}
	defer closeTransport()

	obs := observer.New(tr, playerID, observer.WithSnapshotReports(cfg.SnapshotReports))
	if err := obs.Join(ctx, code); err != nil {
		return err
	}
	defer obs.Leave()

	// The heartbeat also retries queued messages, so it runs even without snapshot reports.
	g, gCtx := errgroup.WithContext(ctx)
	heartbeat := ticker.New(obs, clockwork.NewRealClock(), log.Logger)
	g.Go(func() error { return heartbeat.Run(gCtx) })
	g.Go(func() error { return playerConsole(gCtx, obs, os.Stdin, os.Stdout) })
	return g.Wait()
}

func playerConsole(ctx context.Context, obs *observer.Observer, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "commands: refresh, show, join CODE")
	input := lines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			switch fields := strings.Fields(line); {
			case len(fields) == 0 || fields[0] == "show":
			case fields[0] == "refresh":
				if err := obs.Refresh(ctx); err != nil {
					fmt.Fprintln(out, err)
				}
			case fields[0] == "join" && len(fields) == 2:
				if !shared.ValidRoomCode(fields[1]) {
					fmt.Fprintf(out, "%v: %q\n", errInvalidRoomCode, fields[1])
					continue
				}
				if err := obs.Join(ctx, fields[1]); err != nil {
					fmt.Fprintln(out, err)
				}
			default:
				fmt.Fprintf(out, "unknown command %q\n", line)
				continue
			}
			fmt.Fprintln(out, describeSnapshot(obs.CurrentDisplay()))
		}
	}
}
