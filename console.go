package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"hxann.com/shared-clock/shared"
)

// lines delivers input lines until r is exhausted. The reader goroutine is not stopped by
// ctx; it ends with the process.
func lines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type presenterCommand int

const (
	cmdSetRound presenterCommand = iota
	cmdAdjust
	cmdRandom
	cmdReset
	cmdState
)

type parsedCommand struct {
	kind  presenterCommand
	round shared.Round
	delta time.Duration
}

// parsePresenterCommand understands "1", "2", "+30s", "-5m", "random", "reset" and "state".
func parsePresenterCommand(line string) (parsedCommand, error) {
	switch line {
	case "1":
		return parsedCommand{kind: cmdSetRound, round: shared.ManualRound}, nil
	case "2":
		return parsedCommand{kind: cmdSetRound, round: shared.AutoRound}, nil
	case "random":
		return parsedCommand{kind: cmdRandom}, nil
	case "reset":
		return parsedCommand{kind: cmdReset}, nil
	case "state", "":
		return parsedCommand{kind: cmdState}, nil
	}
	if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
		d, err := time.ParseDuration(line)
		if err != nil {
			return parsedCommand{}, fmt.Errorf("bad time adjustment %q: %w", line, err)
		}
		return parsedCommand{kind: cmdAdjust, delta: d}, nil
	}
	return parsedCommand{}, fmt.Errorf("unknown command %q (try 1, 2, +30s, -5m, random, reset, state)", line)
}

func describeState(s shared.RoomState) string {
	return fmt.Sprintf("room %s | round %d | server time %s | players %d | v%d",
		s.RoomCode, s.Round, shared.FormatTime(s.ServerEpochMs), s.PlayerCount, s.Version)
}

func describeSnapshot(s *shared.PlayerSnapshot) string {
	if s == nil {
		return "waiting for the presenter…"
	}
	return fmt.Sprintf("%s (round %d, v%d)", shared.FormatTime(s.DisplayEpochMs), s.Round, s.SyncedVersion)
}
