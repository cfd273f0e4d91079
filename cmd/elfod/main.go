// Package main implements elfod, the node daemon for the distributed actor
// runtime: it boots the actor system, wires the structured logging and
// log-rotation stack, and runs the discovery controller until a shutdown
// signal arrives.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/google/uuid"
	"github.com/injecto/elfo/internal/baselib/actor"
	"github.com/injecto/elfo/internal/build"
	"github.com/injecto/elfo/internal/netnode"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// daemonFlags mirrors spec.md's configuration surface: listen transports,
// predefined peers to dial at startup, retry backoff, and the compression
// algorithm to advertise during the handshake.
type daemonFlags struct {
	nodeNo         uint32
	listen         []string
	predefined     []string
	attemptInt     time.Duration
	compression    string
	groups         []string
	logDir         string
	maxLogFiles    int
	maxLogFileSize int
}

func newRootCmd() *cobra.Command {
	var flags daemonFlags

	cmd := &cobra.Command{
		Use:   "elfod",
		Short: "run a distributed actor runtime node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), flags)
		},
	}

	fs := cmd.Flags()
	fs.Uint32Var(&flags.nodeNo, "node-no", 1, "this node's stable number")
	fs.StringSliceVar(&flags.listen, "listen", nil,
		"transport address to bind and accept connections on (repeatable)")
	fs.StringSliceVar(&flags.predefined, "predefined", nil,
		"peer transport address to dial at startup (repeatable)")
	fs.DurationVar(&flags.attemptInt, "attempt-interval", 2*time.Second,
		"base retry backoff between dial attempts")
	fs.StringVar(&flags.compression, "compression", "none",
		`compression algorithm to advertise: "none" or "lz4"`)
	fs.StringSliceVar(&flags.groups, "group", nil,
		`local group as "no:name:interest1,interest2" (repeatable)`)
	fs.StringVar(&flags.logDir, "log-dir", "~/.elfo/logs",
		"directory for rotated log files (empty disables file logging)")
	fs.IntVar(&flags.maxLogFiles, "max-log-files",
		build.DefaultMaxLogFiles, "maximum rotated log files to keep")
	fs.IntVar(&flags.maxLogFileSize, "max-log-file-size",
		build.DefaultMaxLogFileSize,
		"maximum log file size in MB before rotation")

	return cmd
}

func runDaemon(ctx context.Context, flags daemonFlags) error {
	logDir := expandHome(flags.logDir)

	var logRotator *build.RotatingLogWriter
	if logDir != "" {
		logRotator = build.NewRotatingLogWriter()
		err := logRotator.InitLogRotator(&build.LogRotatorConfig{
			LogDir:         logDir,
			MaxLogFiles:    flags.maxLogFiles,
			MaxLogFileSize: flags.maxLogFileSize,
			Filename:       "elfod.log",
		})
		if err != nil {
			log.Printf("log rotator init failed, continuing "+
				"without file logging: %v", err)
			logRotator = nil
		} else {
			defer logRotator.Close()

			log.SetOutput(io.MultiWriter(os.Stderr, logRotator))
			log.SetFlags(log.LstdFlags)
		}
	}

	var handlers []btclog.Handler
	handlers = append(handlers, btclog.NewDefaultHandler(os.Stderr))
	if logRotator != nil {
		handlers = append(handlers, btclog.NewDefaultHandler(logRotator))
	}
	combined := build.NewHandlerSet(handlers...)

	rootLogger := btclog.NewSLogger(combined)
	actor.UseLogger(rootLogger.WithPrefix("ACTR"))
	netnode.UseLogger(rootLogger.WithPrefix("NODE"))

	groups, err := parseGroups(flags.groups)
	if err != nil {
		return fmt.Errorf("invalid --group: %w", err)
	}

	compression, err := parseCompression(flags.compression)
	if err != nil {
		return err
	}

	launchID := newLaunchID()
	nodeMap := netnode.NewNodeMap(netnode.NodeInfo{
		NodeNo:   flags.nodeNo,
		LaunchID: launchID,
		Groups:   groups,
	})

	cfg := netnode.Config{
		Listen:          toTransports(flags.listen),
		Predefined:      toTransports(flags.predefined),
		AttemptInterval: flags.attemptInt,
		Compression:     compression,
	}

	// No connection manager is wired in, so loggingDataHandler logs each
	// accepted Data connection and closes it.
	discovery := netnode.NewDiscovery(nodeMap, cfg, loggingDataHandler{})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		cancel()

		sig = <-sigCh
		log.Printf("received %v again, forcing exit", sig)
		os.Exit(1)
	}()

	log.Printf("elfod starting: node_no=%d launch_id=%d listen=%v "+
		"predefined=%v", flags.nodeNo, launchID, flags.listen,
		flags.predefined)

	return discovery.Run(runCtx)
}

// loggingDataHandler is a placeholder DataConnectionHandler: it logs the
// established Data connection and closes the socket. Owning the connection
// (framing regular traffic, flow control) is the connection manager's job,
// which spec.md explicitly defers as future work.
type loggingDataHandler struct{}

func (loggingDataHandler) HandleConnection(local, remote netnode.GroupEndpoint,
	_ fn.Option[netnode.Transport], sock *netnode.Socket, initialWindow int32) {

	log.Printf("data connection ready: local=%+v remote=%+v window=%d",
		local, remote, initialWindow)
	sock.Close()
}

func parseGroups(raw []string) ([]netnode.GroupInfo, error) {
	groups := make([]netnode.GroupInfo, 0, len(raw))
	for _, g := range raw {
		parts := strings.SplitN(g, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf(
				"expected no:name[:interests], got %q", g)
		}

		no, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad group number %q: %w",
				parts[0], err)
		}

		interests := make(map[string]struct{})
		if len(parts) == 3 && parts[2] != "" {
			for _, name := range strings.Split(parts[2], ",") {
				interests[name] = struct{}{}
			}
		}

		groups = append(groups, netnode.GroupInfo{
			GroupNo:   uint32(no),
			Name:      parts[1],
			Interests: interests,
		})
	}

	return groups, nil
}

func parseCompression(s string) (netnode.CompressionAlgorithm, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return netnode.CompressionNone, nil
	case "lz4":
		return netnode.CompressionLZ4, nil
	default:
		return 0, fmt.Errorf(`unknown compression %q, want "none" or "lz4"`, s)
	}
}

func toTransports(addrs []string) []netnode.Transport {
	out := make([]netnode.Transport, len(addrs))
	for i, a := range addrs {
		out[i] = netnode.Transport(a)
	}

	return out
}

// newLaunchID derives a process-restart-detecting launch id from a random
// UUID's low 64 bits, matching the teacher's use of google/uuid for
// identity generation.
func newLaunchID() uint64 {
	id := uuid.New()
	var v uint64
	for _, b := range id[8:] {
		v = v<<8 | uint64(b)
	}

	return v
}

func expandHome(path string) string {
	if path == "" {
		return ""
	}
	if path[0] != '~' {
		return os.ExpandEnv(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + path[1:]
}
