package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/directorio/directorio/go/internal/sharedstate"
	"github.com/directorio/directorio/go/internal/timer"
	"github.com/directorio/directorio/go/internal/window"
	"github.com/directorio/directorio/go/internal/windowsync"
)

type runOptions struct {
	room      string
	primary   bool
	relayURL  string
	relayKey  string
	natsURL   string
	stagesCSV string
	meetingID string
	apiURL    string
	stateDir  string
}

func NewRunCmd(deps *Dependencies) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a timer window for a room",
		Long:  "Run a timer window. The primary window owns the countdown; followers mirror it and forward their controls.\nType commands and press enter; 'h' lists them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWindow(ctx, deps, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cfg := deps.Config
	relayURL := cfg.Relay.URL
	if relayURL == "" {
		relayURL = os.Getenv("RELAY_URL")
	}
	natsURL := cfg.Relay.NATSURL
	if natsURL == "" {
		natsURL = os.Getenv("NATS_URL")
	}

	cmd.Flags().StringVarP(&opts.room, "room", "r", "default", "Room (directory) id shared by the synced windows")
	cmd.Flags().BoolVar(&opts.primary, "primary", false, "Own the countdown for the room")
	cmd.Flags().StringVar(&opts.relayURL, "relay-url", relayURL, "Relay websocket URL, e.g. ws://localhost:8081/ws/rooms")
	cmd.Flags().StringVar(&opts.relayKey, "relay-key", os.Getenv("RELAY_KEY"), "Relay key (defaults to $RELAY_KEY)")
	cmd.Flags().StringVar(&opts.natsURL, "nats", natsURL, "Use NATS subjects as the relay instead of the websocket relay")
	cmd.Flags().StringVar(&opts.stagesCSV, "stages", "", "CSV file of title,duration rows")
	cmd.Flags().StringVar(&opts.meetingID, "meeting", "", "Meeting id to load stages from the meetings API")
	cmd.Flags().StringVar(&opts.apiURL, "api", "http://localhost:8080", "Meetings API base URL")
	cmd.Flags().StringVar(&opts.stateDir, "state-dir", cfg.Sync.StateDir, "Directory shared by windows on this machine")

	return cmd
}

func runWindow(ctx context.Context, deps *Dependencies, opts runOptions, in io.Reader, out io.Writer) error {
	formatter := NewFormatter(out)
	cfg := deps.Config

	stages, err := resolveStages(ctx, opts)
	if err != nil {
		return err
	}

	sessionCfg := windowsync.DefaultConfig()
	sessionCfg.HeartbeatInterval = cfg.HeartbeatInterval(windowsync.DefaultHeartbeatInterval)
	sessionCfg.MaxMissedPongs = cfg.MaxMissedPongs(windowsync.DefaultMaxMissedPongs)
	if cfg.Sync.EventLogSize > 0 {
		sessionCfg.EventLogSize = cfg.Sync.EventLogSize
	}

	var cache sharedstate.Port
	if opts.stateDir != "" {
		dir, err := sharedstate.OpenDir(opts.stateDir)
		if err != nil {
			return err
		}
		defer dir.Close()
		cache = dir
		sessionCfg.Transports = append(sessionCfg.Transports,
			windowsync.StorageFactory(dir, sessionCfg.Clock))
	}

	relay, err := openRelay(opts)
	if err != nil {
		return err
	}
	if relay != nil {
		defer relay.Close()
		sessionCfg.Relay = relay
	}

	session := windowsync.NewSession(sessionCfg)
	session.OnError(func(err error) {
		log.Debug().Err(err).Str("room", opts.room).Msg("sync error")
	})

	timerCfg := timer.Config{
		DefaultColor: cfg.Timer.DefaultColor,
		AdjustStep:   cfg.Timer.AdjustStepSec,
	}
	w := window.New(session, window.Config{
		Room:      opts.room,
		Primary:   opts.primary,
		Stages:    stages,
		Timer:     timerCfg,
		LongPress: cfg.LongPress(timer.LongPressThreshold),
		Cache:     cache,
	})
	w.OnChange(func(snap timer.Snapshot) {
		formatter.Timer(Line(snap, w.Status(), w.Background(), w.IsPrimary()))
	})

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start window: %w", err)
	}
	defer w.Close()

	formatter.Info(fmt.Sprintf("room %s, %d stages", opts.room, len(stages)))
	formatter.Help()
	formatter.Timer(Line(w.Snapshot(), w.Status(), w.Background(), w.IsPrimary()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	step := timerCfg.AdjustStep
	if step <= 0 {
		step = timer.DefaultAdjustStep
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleInput(w, line, step)
			switch {
			case quit:
				return nil
			case errors.Is(err, errShowStatus):
				formatter.Connection(session.State())
				formatter.Events(session.Events())
			case errors.Is(err, errShowHelp):
				formatter.Help()
			case errors.Is(err, errReconnect):
				if err := w.Reconnect(ctx); err != nil {
					formatter.Error(err.Error())
				}
				formatter.Connection(session.State())
			case err != nil:
				formatter.Error(err.Error())
			}
			formatter.Timer(Line(w.Snapshot(), w.Status(), w.Background(), w.IsPrimary()))
		}
	}
}

func resolveStages(ctx context.Context, opts runOptions) ([]timer.Stage, error) {
	switch {
	case opts.stagesCSV != "":
		return loadStagesCSV(opts.stagesCSV)
	case opts.meetingID != "":
		id, err := uuid.Parse(opts.meetingID)
		if err != nil {
			return nil, fmt.Errorf("invalid meeting id: %w", err)
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return fetchStages(ctx, http.DefaultClient, opts.apiURL, id)
	case opts.primary:
		return nil, errors.New("a primary window needs --stages or --meeting")
	}
	// Followers take their stages from the primary
	return nil, nil
}

func openRelay(opts runOptions) (windowsync.Relay, error) {
	switch {
	case opts.natsURL != "":
		cfg := windowsync.DefaultNATSRelayConfig()
		cfg.URL = opts.natsURL
		return windowsync.DialNATSRelay(cfg)
	case opts.relayURL != "":
		if opts.relayKey == "" {
			return nil, errors.New("RELAY_KEY must be set to use the relay")
		}
		return windowsync.NewWSRelay(windowsync.WSRelayConfig{
			URL: opts.relayURL,
			Key: opts.relayKey,
		}), nil
	}
	return nil, nil
}

var (
	errShowStatus = errors.New("show status")
	errShowHelp   = errors.New("show help")
	errReconnect  = errors.New("reconnect")
)

type controller interface {
	Toggle()
	Reset()
	Next()
	Previous()
	Adjust(delta int)
}

// handleInput maps one typed command onto a window action.
func handleInput(c controller, line string, step int) (quit bool, err error) {
	cmd := strings.TrimSpace(strings.ToLower(line))
	switch cmd {
	case "", "t", "toggle":
		c.Toggle()
	case "r", "reset":
		c.Reset()
	case "n", "next":
		c.Next()
	case "p", "prev", "previous":
		c.Previous()
	case "+":
		c.Adjust(step)
	case "-":
		c.Adjust(-step)
	case "s", "status":
		return false, errShowStatus
	case "c", "reconnect":
		return false, errReconnect
	case "h", "help", "?":
		return false, errShowHelp
	case "q", "quit", "exit":
		return true, nil
	default:
		if cmd[0] == '+' || cmd[0] == '-' {
			n, perr := strconv.Atoi(cmd)
			if perr != nil || n == 0 {
				return false, fmt.Errorf("invalid adjustment %q", line)
			}
			c.Adjust(n)
			return false, nil
		}
		return false, fmt.Errorf("unknown command %q", line)
	}
	return false, nil
}
