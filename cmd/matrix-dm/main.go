// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

// matrix-dm is a terminal client for a single direct-message
// conversation. It opens one room, streams its timeline into a TUI,
// and supports sending text, loading older history, and placing
// voice/video calls over the room's signaling events.
//
// Authentication: set MATRIX_DM_TOKEN to reuse an existing access
// token, or MATRIX_DM_PASSWORD to perform a password login at
// startup. The config file (see --config) carries the homeserver URL
// and account name.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/abekugithub/matrix/lib/config"
	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/lib/version"
	"github.com/abekugithub/matrix/messaging"
	"github.com/abekugithub/matrix/timeline"
	"github.com/abekugithub/matrix/voip"
)

// envPassword carries the account password for interactive login when
// no access token is available. Read once at startup, never stored.
const envPassword = "MATRIX_DM_PASSWORD"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var roomFlag string
	var peerFlag string
	var logOutput string

	flagSet := pflag.NewFlagSet("matrix-dm", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the config file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&roomFlag, "room", "", "room ID (!id:server) or alias (#alias:server) to open")
	flagSet.StringVar(&peerFlag, "peer", "", "user ID (@user:server) to open or create a direct room with")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (the TUI owns the terminal)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("matrix-dm")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if (roomFlag == "") == (peerFlag == "") {
		return fmt.Errorf("exactly one of --room or --peer is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := openLogger(logOutput, cfg.SlogLevel())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.HomeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	session, err := authenticate(ctx, client, cfg)
	if err != nil {
		return err
	}
	localUser := session.UserID()

	roomID, err := resolveRoom(ctx, session, logger, roomFlag, peerFlag)
	if err != nil {
		return err
	}

	title := roomID.String()
	if members, err := session.GetRoomMembers(ctx, roomID); err != nil {
		logger.Warn("member fetch failed, using room ID as title",
			"room_id", roomID,
			"error", err,
		)
	} else {
		title = timeline.RoomDisplayName("", roomID, members, localUser)
	}

	stream, err := messaging.OpenStream(ctx, session, roomID, nil)
	if err != nil {
		return fmt.Errorf("opening stream for %s: %w", roomID, err)
	}

	renderer := &teaRenderer{}

	calls, err := voip.NewManager(voip.ManagerConfig{
		Signaling: session,
		Devices: &voip.CaptureDevices{
			// TODO: wire PipeWire portal capture sources; until then
			// device acquisition fails with a clear diagnostic and
			// incoming invites are declined with media_failure.
			Logger: logger,
		},
		Transport: voip.NewPionTransportFactory(session, cfg.Call.STUNServers, logger),
		LocalUser: localUser,
		Notify: func(inCall, isVideo bool) {
			renderer.program.Send(callNotifyMsg{inCall: inCall, isVideo: isVideo})
		},
		InviteLifetime: cfg.Call.RingTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	view, err := timeline.NewConversationView(timeline.ViewConfig{
		Session:    session,
		Stream:     stream,
		Renderer:   renderer,
		Calls:      calls,
		EchoExpiry: cfg.Timeline.EchoExpiry,
		PageSize:   cfg.Timeline.PageSize,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	model := newModel(ctx, cancel, view, calls, title)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	renderer.program = program

	_, err = program.Run()
	return err
}

// authenticate builds a Session from MATRIX_DM_TOKEN when present,
// falling back to a password login with MATRIX_DM_PASSWORD.
func authenticate(ctx context.Context, client *messaging.Client, cfg *config.Config) (*messaging.Session, error) {
	if token := os.Getenv(config.EnvAccessToken); token != "" {
		userID, err := localUserID(cfg)
		if err != nil {
			return nil, err
		}
		return client.SessionFromToken(userID, token), nil
	}

	password := os.Getenv(envPassword)
	if password == "" {
		return nil, fmt.Errorf("no credentials: set %s or %s", config.EnvAccessToken, envPassword)
	}
	session, err := client.Login(ctx, cfg.Username, password)
	if err != nil {
		return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
	}
	return session, nil
}

// localUserID assembles the full user ID from the configured localpart
// and server name, defaulting the server name to the homeserver host.
func localUserID(cfg *config.Config) (ref.UserID, error) {
	serverName := cfg.ServerName
	if serverName == "" {
		parsed, err := url.Parse(cfg.HomeserverURL)
		if err != nil {
			return ref.UserID{}, fmt.Errorf("deriving server name from %s: %w", cfg.HomeserverURL, err)
		}
		serverName = parsed.Hostname()
	}
	return ref.ParseUserID("@" + cfg.Username + ":" + serverName)
}

// resolveRoom turns --room or --peer into a joined room ID.
func resolveRoom(ctx context.Context, session *messaging.Session, logger *slog.Logger, roomFlag, peerFlag string) (ref.RoomID, error) {
	if peerFlag != "" {
		peer, err := ref.ParseUserID(peerFlag)
		if err != nil {
			return ref.RoomID{}, err
		}
		// TODO: consult account data (m.direct) for an existing direct
		// room with this peer before creating a fresh one.
		roomID, err := session.CreateDirectRoom(ctx, peer)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("creating direct room with %s: %w", peer, err)
		}
		return roomID, nil
	}

	var roomID ref.RoomID
	switch {
	case strings.HasPrefix(roomFlag, "#"):
		alias, err := ref.ParseRoomAlias(roomFlag)
		if err != nil {
			return ref.RoomID{}, err
		}
		roomID, err = session.ResolveAlias(ctx, alias)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("resolving %s: %w", alias, err)
		}
	default:
		var err error
		roomID, err = ref.ParseRoomID(roomFlag)
		if err != nil {
			return ref.RoomID{}, err
		}
	}

	// Joining an already-joined room is a no-op on the server; a
	// failure here still lets the stream try, so only log it.
	if _, err := session.JoinRoom(ctx, roomID); err != nil {
		logger.Warn("room join failed", "room_id", roomID, "error", err)
	}
	return roomID, nil
}

// openLogger routes log records to the given file, or discards them:
// writing to stderr would corrupt the alt-screen display.
func openLogger(path string, level slog.Level) (*slog.Logger, func(), error) {
	if path == "" {
		handler := slog.NewJSONHandler(io.Discard, nil)
		return slog.New(handler), func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(handler), func() { file.Close() }, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `matrix-dm — terminal client for one direct-message conversation.

Opens a single room and streams its timeline. Send with enter, scroll
with PgUp/PgDn (older history loads as you approach the top), place a
voice call with F2, answer with F3, hang up with F4.

Usage:
  matrix-dm --room '!roomid:server' [flags]
  matrix-dm --peer '@user:server'   [flags]

Environment:
  %s   path to the config file (overridden by --config)
  %s    access token to reuse an existing session
  %s password for interactive login when no token is set

Flags:
`, config.EnvConfigPath, config.EnvAccessToken, envPassword)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
