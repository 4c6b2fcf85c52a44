package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanternbot/ircbot/echoprom"
	"github.com/lanternbot/ircbot/irc"
	"github.com/lanternbot/ircbot/irc/bot"
	"github.com/lanternbot/ircbot/irc/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("ircbot", pflag.ContinueOnError)
	configSource := flags.String("config", "", "Config file or URL (yaml, toml or json)")
	server := flags.String("server", "", "IRC server host")
	port := flags.Int("port", 0, "IRC server port")
	channel := flags.String("channel", "", "Main channel to join and greet in")
	join := flags.StringSlice("join", nil, "Extra channels to join")
	nicknameFile := flags.String("nickname-file", "", "File holding the bot's nickname")
	passwordFile := flags.String("password-file", "", "File holding the bot's NickServ password")
	verbosity := flags.IntP("verbosity", "v", 0, "Protocol trace level, 0 to 5")
	metricsAddr := flags.String("metrics-addr", "", "Serve /metrics and /healthz on this address")
	ops := flags.StringSlice("op", nil, "Nicknames to grant operator status on join")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if files, err := config.LoadEnvTree(config.DefaultEnvFile); err != nil {
		log.Fatalf("Failed to load environment files: %v", err)
	} else if len(files) > 0 {
		log.Printf("Loaded environment from %v", files)
	}

	cfg, err := config.Load(*configSource)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags given on the command line win over file and environment
	if flags.Changed("server") {
		cfg.Server.Host = *server
	}
	if flags.Changed("port") {
		cfg.Server.Port = *port
	}
	if flags.Changed("channel") {
		cfg.Channels.Main = *channel
	}
	if flags.Changed("join") {
		cfg.Channels.Extra = *join
	}
	if flags.Changed("nickname-file") {
		cfg.Identity.NicknameFile = *nicknameFile
	}
	if flags.Changed("password-file") {
		cfg.Identity.PasswordFile = *passwordFile
	}
	if flags.Changed("verbosity") {
		cfg.Bot.Verbosity = *verbosity
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}
	if flags.Changed("op") {
		cfg.Bot.Operators = *ops
	}

	if err := cfg.ResolveIdentity(); err != nil {
		log.Fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []irc.Option{
		irc.WithPort(cfg.Server.Port),
		irc.WithRealname(cfg.Identity.Realname),
		irc.WithVerbosity(cfg.Bot.Verbosity),
		irc.WithMetrics(irc.NewMetrics(reg)),
	}
	if cfg.Bot.VersionReply != "" {
		opts = append(opts, irc.WithVersionReply(cfg.Bot.VersionReply))
	}

	session, err := irc.NewSession(cfg.Identity.Nickname, cfg.Identity.Password, opts...)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var status *echoprom.Server
	if cfg.Metrics.Enabled {
		status = echoprom.New(reg, session)
		go func() {
			log.Printf("Status server listening on %s", cfg.Metrics.Addr)
			if err := status.Start(cfg.Metrics.Addr); err != nil {
				log.Printf("Status server failed: %v", err)
			}
		}()
	}

	runner := &bot.Runner{
		Session: session,
		Router: irc.NewRouter(&bot.Greeter{
			MainChannel: cfg.Channels.Main,
			Operators:   cfg.Bot.Operators,
			About:       cfg.Bot.About,
		}),
		Server:  cfg.Server.Host,
		Channel: cfg.Channels.Main,
		Extra:   cfg.Channels.Extra,
		Poll:    cfg.PollInterval(),
	}

	log.Printf("Starting %s as %s on %s", irc.Version, cfg.Identity.Nickname, cfg.GetServerAddress())
	if err := runner.Run(ctx); err != nil {
		log.Printf("Stopped while connecting: %v", err)
	}

	if status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := status.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error stopping status server: %v", err)
		}
	}

	log.Println("Goodbye!")
}
