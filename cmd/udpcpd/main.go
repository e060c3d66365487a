// Package main implements udpcpd, a standalone UDPCP socket daemon: it
// opens a UDPCP socket, logs delivered messages, and optionally exposes a
// websocket observability bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rcarmo/go-rdp/internal/config"
	"github.com/rcarmo/go-rdp/internal/logging"
	"github.com/rcarmo/go-rdp/internal/monitor"
	"github.com/rcarmo/go-rdp/internal/transport/udp"
)

var (
	appName    = "udpcpd"
	appVersion = "dev" // injected at build time via -ldflags
)

func main() {
	args, action := parseFlags()
	if action != "" {
		return
	}
	if err := run(args); err != nil {
		log.Fatalln(err)
	}
}

// parsedArgs holds the parsed command-line arguments, mirroring the
// precedence config.LoadWithOverrides applies: flags win over env, env
// wins over the config file, the file wins over defaults.
type parsedArgs struct {
	configFile    string
	localAddress  string
	logLevel      string
	monitorListen string
}

//go:noinline
func parseFlags() (parsedArgs, string) {
	return parseFlagsWithArgs(os.Args[1:])
}

func parseFlagsWithArgs(args []string) (parsedArgs, string) {
	fs := flag.NewFlagSet("udpcpd", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to a udpcpd.yaml configuration file")
	localAddrFlag := fs.String("local-address", "", "UDP bind address, e.g. 0.0.0.0:9000")
	logLevelFlag := fs.String("log-level", "", "log level (debug, info, warn, error)")
	monitorFlag := fs.String("monitor-listen", "", "websocket monitor bind address, e.g. :8088 (empty disables it)")
	helpFlag := fs.Bool("help", false, "show help")
	versionFlag := fs.Bool("version", false, "show version")

	_ = fs.Parse(args)

	if *helpFlag {
		fs.Usage()
		return parsedArgs{}, "help"
	}
	if *versionFlag {
		fmt.Printf("%s %s\n", appName, appVersion)
		return parsedArgs{}, "version"
	}

	return parsedArgs{
		configFile:    strings.TrimSpace(*configFlag),
		localAddress:  strings.TrimSpace(*localAddrFlag),
		logLevel:      strings.TrimSpace(*logLevelFlag),
		monitorListen: strings.TrimSpace(*monitorFlag),
	}, ""
}

func run(args parsedArgs) error {
	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		ConfigFile:    args.configFile,
		LocalAddress:  args.localAddress,
		LogLevel:      args.logLevel,
		MonitorListen: args.monitorListen,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.SetLevelFromString(cfg.Logging.Level)

	transferMode, err := cfg.Socket.TransferModeValue()
	if err != nil {
		return err
	}
	checksumMode, err := cfg.Socket.ChecksumModeValue()
	if err != nil {
		return err
	}

	sock, err := udp.New(udp.Config{
		LocalAddress:           cfg.Socket.LocalAddress,
		TransferMode:           transferMode,
		ChecksumMode:           checksumMode,
		RetransmissionTimeout:  cfg.Socket.RetransmissionTimeout,
		RetransmissionAttempts: cfg.Socket.RetransmissionAttempts,
		MaximumConnections:     cfg.Socket.MaximumConnections,
		PollInterval:           cfg.Socket.PollInterval,
	}, logging.Default())
	if err != nil {
		return fmt.Errorf("constructing socket: %w", err)
	}

	if err := sock.Open(); err != nil {
		return fmt.Errorf("opening socket: %w", err)
	}
	logging.Info("udpcpd listening on %s", sock.LocalAddr())

	mon := monitor.New(monitor.Config{ListenAddress: cfg.Monitor.ListenAddress}, sock, logging.Default())
	mon.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go logWorkerErrors(ctx, sock)
	go logDeliveredMessages(ctx, sock)

	<-ctx.Done()
	logging.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	_ = mon.Shutdown(shutdownCtx)

	return sock.Close()
}

func logWorkerErrors(ctx context.Context, sock *udp.Socket) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sock.Errors():
			logging.Warn("transport error: %v", err)
		}
	}
}

func logDeliveredMessages(ctx context.Context, sock *udp.Socket) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, addr, err := sock.ReceiveFrom()
		if err != nil {
			return
		}
		logging.Info("delivered %d bytes from %s", len(data), addr)
	}
}
