// Package main provides the lnsocket-cli entry point: connect to a
// core-lightning node's Commando RPC over BOLT #8, store the peer in a
// local config file, and issue calls against it.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	lnsocket "github.com/lnbc1/lnsocket-go"
	"github.com/lnbc1/lnsocket-go/internal/config"
	"github.com/lnbc1/lnsocket-go/internal/logging"
	"github.com/lnbc1/lnsocket-go/internal/statusserver"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

// app bundles the state every subcommand needs: where the config file
// lives, the structured logger built from --log-level/--log-format, and
// (when --status-addr is set) the running debug server subcommands publish
// lifecycle events to.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	statusAddr string

	logger *slog.Logger
	status *statusserver.Server
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "lnsocket-cli",
		Short:   "lnsocket-cli - Commando RPC client for core-lightning nodes",
		Version: Version,
		Long: `lnsocket-cli connects to a core-lightning node's Commando RPC
interface over an encrypted BOLT #8 channel, directly or through Tor for
onion addresses, and issues JSON-RPC calls against it.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = logging.NewLogger(a.logLevel, a.logFormat)
			if a.statusAddr != "" {
				a.status = statusserver.NewServer(statusserver.ServerConfig{
					Address:      a.statusAddr,
					ReadTimeout:  10 * time.Second,
					WriteTimeout: 10 * time.Second,
				})
				if err := a.status.Start(); err != nil {
					return fmt.Errorf("failed to start status server: %w", err)
				}
				fmt.Fprintf(os.Stderr, "status server listening on %s\n", a.status.Address())
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.status != nil {
				return a.status.Stop()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "log format: text, json")
	rootCmd.PersistentFlags().StringVar(&a.statusAddr, "status-addr", "", "if set, serve /metrics and /events on this address")

	rootCmd.AddCommand(connectCmd(a), callCmd(a), statusCmd(a))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "lnsocket-cli.yaml"
	}
	return filepath.Join(dir, "lnsocket-cli", "config.yaml")
}

func loadOrDefault(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default()
	}
	return cfg
}

// publish is a no-op when no --status-addr was given.
func (a *app) publish(ev statusserver.Event) {
	if a.status != nil {
		a.status.Publish(ev)
	}
}

func connectCmd(a *app) *cobra.Command {
	var name, host, pubkeyHex string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Add a peer to the config via an interactive wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || host == "" || pubkeyHex == "" {
				form := huh.NewForm(huh.NewGroup(
					huh.NewInput().Title("Local name for this peer").Value(&name),
					huh.NewInput().Title("host:port (or onion:port)").Value(&host),
					huh.NewInput().Title("Node static pubkey (hex, 33 bytes)").Value(&pubkeyHex),
				))
				if err := form.Run(); err != nil {
					return fmt.Errorf("wizard cancelled: %w", err)
				}
			}

			fmt.Fprint(os.Stdout, "Commando rune (hidden): ")
			runeBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stdout)
			if err != nil {
				return fmt.Errorf("failed to read rune: %w", err)
			}

			peer := config.PeerConfig{Name: name, HostPort: host, PubKey: pubkeyHex, Rune: string(runeBytes)}
			if _, err := peer.PubKeyBytes(); err != nil {
				return err
			}

			cfg := loadOrDefault(a.configPath)
			cfg.Peers = append(cfg.Peers, peer)
			if err := config.Save(a.configPath, cfg); err != nil {
				return err
			}

			style := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
			fmt.Println(style.Render(fmt.Sprintf("saved peer %q to %s", name, a.configPath)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "local name for this peer")
	cmd.Flags().StringVar(&host, "host", "", "host:port of the node")
	cmd.Flags().StringVar(&pubkeyHex, "pubkey", "", "node static pubkey, hex encoded")
	return cmd
}

func callCmd(a *app) *cobra.Command {
	var peerName string
	var timeout time.Duration
	var retries int

	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Perform one Commando call against a configured peer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefault(a.configPath)
			peer, err := cfg.Peer(peerName)
			if err != nil {
				return err
			}
			pub, err := peer.PubKeyBytes()
			if err != nil {
				return err
			}

			localSecret, err := ephemeralLocalSecret()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			torCfg := &lnsocket.TorConfig{Host: cfg.Tor.Host, Port: cfg.Tor.Port}

			a.publish(statusserver.Event{Kind: statusserver.EventHandshakeStart, Detail: peer.HostPort})
			sock, err := lnsocket.ConnectAndInitWithTorConfig(ctx, localSecret, pub, peer.HostPort, torCfg, lnsocket.WithLogger(a.logger))
			if err != nil {
				a.publish(statusserver.Event{Kind: statusserver.EventReconnectAttempt, Detail: err.Error()})
				return fmt.Errorf("connect failed: %w", err)
			}
			a.publish(statusserver.Event{Kind: statusserver.EventHandshakeComplete, Detail: peer.HostPort})

			client := lnsocket.Spawn(lnsocket.SpawnConfig{
				Socket:          sock,
				Rune:            peer.Rune,
				LocalSecret:     localSecret,
				RemoteStaticPub: pub,
				HostPort:        peer.HostPort,
				TorConfig:       torCfg,
				Logger:          a.logger,
			})
			defer client.Close()

			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("invalid params JSON: %w", err)
				}
			}

			opts := lnsocket.DefaultCallOpts().WithTimeout(cfg.Defaults.Timeout).WithRetries(cfg.Defaults.Retries)
			if timeout > 0 {
				opts = opts.WithTimeout(timeout)
			}
			if cmd.Flags().Changed("retries") {
				opts = opts.WithRetries(retries)
			}

			a.publish(statusserver.Event{Kind: statusserver.EventCallStart, Method: args[0]})
			result, err := client.CallWithOpts(ctx, args[0], params, opts)
			if err != nil {
				a.publish(statusserver.Event{Kind: statusserver.EventCallRetry, Method: args[0], Detail: err.Error()})
				return fmt.Errorf("call failed: %w", err)
			}
			a.publish(statusserver.Event{Kind: statusserver.EventCallComplete, Method: args[0]})

			var pretty map[string]any
			if err := json.Unmarshal(result, &pretty); err == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
			} else {
				fmt.Println(string(result))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&peerName, "peer", "", "configured peer name to call")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "call timeout (default: config/library default)")
	cmd.Flags().IntVar(&retries, "retries", 0, "number of retries on a retriable failure")
	cmd.MarkFlagRequired("peer")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the configured peers and library defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefault(a.configPath).Redacted()

			header := lipgloss.NewStyle().Bold(true).Underline(true)
			fmt.Printf("%s (%s configured)\n", header.Render("Configured peers"), humanize.Comma(int64(len(cfg.Peers))))
			if len(cfg.Peers) == 0 {
				fmt.Println("  (none — run `lnsocket-cli connect` to add one)")
			}
			for _, p := range cfg.Peers {
				fmt.Printf("  %-12s %-28s rune=%s\n", p.Name, p.HostPort, p.Rune)
			}

			fmt.Println()
			fmt.Println(header.Render("Defaults"))
			fmt.Printf("  tor proxy: %s:%d\n", cfg.Tor.Host, cfg.Tor.Port)
			fmt.Printf("  call timeout: %s, retries: %d\n", cfg.Defaults.Timeout, cfg.Defaults.Retries)
			if a.status != nil {
				fmt.Printf("\n  status server: %s (/metrics, /events)\n", a.status.Address())
			}
			return nil
		},
	}
	return cmd
}

// ephemeralLocalSecret generates a fresh random static key for this CLI
// invocation. lnsocket-cli is a one-shot RPC client, not a long-lived node,
// so it has no stable identity to persist across runs the way a full LN
// node would.
func ephemeralLocalSecret() ([32]byte, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return secret, fmt.Errorf("failed to generate local key: %w", err)
	}
	return secret, nil
}
