package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/agentserver"
	"kbs2/internal/config"
	"kbs2/internal/kbserr"
)

// daemonizedEnvVar marks a re-exec'd agent process so it knows not to
// double-fork again (spec.md §4.4's double-fork, Go-idiomatic as a
// re-exec-and-Setsid since the runtime can't safely fork() without exec).
const daemonizedEnvVar = "KBS2_AGENT_DAEMONIZED"

var agentForeground bool

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the kbs2 background agent",
	RunE:  runAgentServe,
}

var agentFlushQuit bool

var agentFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush the current configuration's identity from the agent",
	RunE:  runAgentFlush,
}

var agentUnwrapCmd = &cobra.Command{
	Use:   "unwrap",
	Short: "Force the agent to unwrap the current configuration's identity",
	RunE:  runAgentUnwrap,
}

var agentQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Report whether the agent already holds the current configuration's identity",
	RunE:  runAgentQuery,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().BoolVarP(&agentForeground, "foreground", "f", false, "run the agent in the foreground instead of daemonizing")
	agentCmd.AddCommand(agentFlushCmd)
	agentCmd.AddCommand(agentUnwrapCmd)
	agentCmd.AddCommand(agentQueryCmd)
	agentFlushCmd.Flags().BoolVarP(&agentFlushQuit, "quit", "q", false, "flush every identity and stop the agent (flush_all then quit)")
}

// runAgentServe is "init" for the agent's own bootstrap lifecycle
// (spec.md §4.6 "Excluded subcommands" — agent never triggers global
// hooks): no config load, no session, no hooks, just bind and serve.
func runAgentServe(cmd *cobra.Command, args []string) error {
	if !agentForeground && os.Getenv(daemonizedEnvVar) != "1" {
		return daemonizeAndExit()
	}

	socketPath := config.SocketPath()
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	srv, err := agentserver.Listen(socketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		if errors.Is(err, kbserr.ErrAgentProtocol) {
			// Another live agent already owns the socket: exit cleanly per
			// spec.md §4.4.
			os.Exit(0)
		}
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	serveErr := srv.Serve(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if serveErr != nil {
		fmt.Fprintln(os.Stderr, "kbs2: agent: "+serveErr.Error())
		os.Exit(1)
	}
	return nil
}

// daemonizeAndExit re-execs the current binary with the daemonized sentinel
// set, detached from the controlling terminal in a new session, then exits
// the parent with status 0 once the child has started.
func daemonizeAndExit() error {
	self, err := os.Executable()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	defer devnull.Close()

	cmd := exec.Command(self, "agent")
	cmd.Env = append(os.Environ(), daemonizedEnvVar+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: spawning agent: "+err.Error())
		os.Exit(1)
	}
	return nil
}

func runAgentFlush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := agentclient.Connect(ctx, config.SocketPath(), false, fingerprint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	defer sess.Close()

	if agentFlushQuit {
		err = sess.Quit()
	} else {
		err = sess.Flush()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	return nil
}

func runAgentUnwrap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	sess, err := openSession(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	sess.Close()
	return nil
}

func runAgentQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := agentclient.Connect(ctx, config.SocketPath(), false, fingerprint)
	if err != nil {
		fmt.Println("not present (agent unreachable)")
		return nil
	}
	defer sess.Close()

	present, err := sess.Query()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	if present {
		fmt.Println("present")
	} else {
		fmt.Println("not present")
	}
	return nil
}
