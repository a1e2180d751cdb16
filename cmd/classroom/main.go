package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Classroom/internal/adapters/bus/ws"
	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/config"
	"github.com/dkeye/Classroom/internal/domain"
)

func main() {
	var (
		roleFlag    = pflag.StringP("role", "r", "student", "teacher or student")
		userFlag    = pflag.StringP("user", "u", "", "own user id")
		teacherFlag = pflag.StringP("teacher", "t", "", "teacher user id (students only)")
		groupFlag   = pflag.StringP("group", "g", "class", "relay group")
		relayFlag   = pflag.String("relay", "", "relay websocket url, overrides relay.url")
		debugFlag   = pflag.Bool("debug", false, "debug logging")
	)
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debugFlag {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	role, err := domain.ParseRole(*roleFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("bad role")
	}
	url := cfg.Relay.URL
	if *relayFlag != "" {
		url = *relayFlag
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus, err := ws.Dial(ctx, url, domain.GroupID(*groupFlag), domain.UserID(*userFlag))
	if err != nil {
		log.Fatal().Err(err).Str("relay", url).Msg("relay dial")
	}
	defer bus.Close()

	o, err := orch.New(role, domain.UserID(*userFlag), bus, orch.Options{
		Teacher:         domain.UserID(*teacherFlag),
		RetryInterval:   cfg.Signal.RetryInterval,
		RetryLimit:      &cfg.Signal.RetryLimit,
		ExpiredTTL:      cfg.Signal.ExpiredTTL,
		ExpiredCapacity: cfg.Signal.ExpiredCapacity,
		OutboxSize:      cfg.Signal.OutboxSize,
		Admission:       app.CapacityPolicy{Capacity: cfg.Signal.StageCapacity},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}
	defer o.Close()
	bus.Subscribe(o.HandleMessage)

	sh := newShell(o, os.Stdout)
	sh.watchNotices()
	fmt.Fprintf(os.Stdout, "%s %s in %s, type help\n", role, *userFlag, *groupFlag)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bus.Done():
			log.Warn().Msg("relay connection lost")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := sh.exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return
				}
				fmt.Fprintf(os.Stdout, "error: %v\n", err)
			}
		}
	}
}
