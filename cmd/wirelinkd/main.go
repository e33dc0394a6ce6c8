// wirelinkd is a demonstration daemon: it brings up a server over the
// socket link and registers a single echo protocol that answers every
// request with its own payload.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/wirelink/internal/logging"
	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/link/socket"
	"github.com/danmuck/wirelink/server"
	"github.com/danmuck/wirelink/wire"
)

const (
	echoProtocol uint8 = 1
	echoAction   uint8 = 1
)

func main() {
	configPath := flag.String("config", "", "path to the daemon's toml configuration")
	flag.Parse()
	logging.ConfigureRuntime()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "wirelinkd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadDaemonConfig(configPath)
	if err != nil {
		return err
	}

	lk, err := socket.NewLink(socket.Config{
		StreamAddr:     cfg.StreamAddr,
		DatagramAddr:   cfg.DatagramAddr,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Link:           lk,
		MaxMessageSize: cfg.MaxMessageSize,
		Workers:        cfg.Workers,
		OnConnect: func(h link.Conn) {
			log.Info().Int("client", int(h)).Msg("client connected")
		},
		OnDisconnect: func(h link.Conn) {
			log.Info().Int("client", int(h)).Msg("client disconnected")
		},
	})
	if err != nil {
		return err
	}

	srv.RegisterProtocol(server.NewProtocol(echoProtocol, map[uint8]server.Handler{
		echoAction: func(call *server.Call, in *wire.Buffer) {
			out := call.Reply()
			out.WriteBytes(in.ReadBytes())
			if err := call.Respond(out); err != nil {
				log.Warn().Err(err).Msg("echo respond failed")
			}
		},
	}))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("signal received, shutting down")
		srv.Shutdown()
	}()

	return srv.Run()
}
