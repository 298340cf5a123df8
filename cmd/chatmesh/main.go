// Command chatmesh runs the entity interaction engine: against Discord
// (run), against an in-process channel on stdin (local), or as a one-shot
// definition check (validate).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatmesh"
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/gateway/discord"
	"github.com/hupe1980/chatmesh/gateway/memory"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/registry"
	"github.com/hupe1980/chatmesh/router"
)

var (
	entityDir string
	logLevel  string
	logFormat string

	defaultModel string
	histLimit    int
	maxHops      int
	turnBudget   int
	turnDelay    time.Duration

	logger logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatmesh",
	Short: "Multi-entity chat orchestration engine",
	Long: `chatmesh hosts a set of AI personas in a shared chat channel. Entities
are summoned with @handle mentions or replies, can mention each other, and
can be put into multi-turn conversations.

Entity definitions are JSON or YAML files in the entity directory; provider
credentials come from the environment (OPENAI_API_KEY, ANTHROPIC_API_KEY,
DISCORD_TOKEN).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.NewSlogLogger(parseLevel(logLevel), logFormat, false)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and serve entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := os.Getenv("DISCORD_TOKEN")
		if token == "" {
			return fmt.Errorf("DISCORD_TOKEN is not set")
		}

		gw, err := discord.New(token, func(o *discord.Options) {
			o.Logger = logger
		})
		if err != nil {
			return err
		}

		engine, err := newEngine(gw)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := engine.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("definition watch stopped", "error", err)
			}
		}()

		reportEntities(engine)
		if err := gw.Run(ctx, engine); err != nil {
			return err
		}
		engine.Wait()
		return nil
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run a local session on stdin against an in-memory channel",
	Long: `Reads lines from stdin as user messages in a single channel and prints
entity responses. Lines starting with "/" are commands: /speak, /chat,
/stop, /status, /quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hub := memory.NewHub()
		engine, err := newEngine(hub)
		if err != nil {
			return err
		}
		reportEntities(engine)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, cancel := hub.Subscribe()
		defer cancel()
		go func() {
			for msg := range events {
				if msg.Author.Kind != core.SpeakerUser {
					fmt.Printf("<%s> %s\n", msg.Author.DisplayName(), msg.Text)
				}
			}
		}()

		const channelID = "local"
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if ctx.Err() != nil {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if quit := localCommand(ctx, engine, channelID, line); quit {
					break
				}
				continue
			}
			msg := core.Message{ChannelID: channelID, Author: core.UserSpeaker("local", "You"), Text: line}
			msg.ID = hub.Post(msg)
			engine.HandleMessage(ctx, msg)
		}
		engine.Wait()
		return scanner.Err()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the entity definition directory and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, issues, err := registry.Load(entityDir)
		if err != nil {
			return err
		}
		for _, e := range snap.Entities() {
			fmt.Printf("ok\t%s\t%s\t%s\n", e.Handle, e.Name, e.Model)
		}
		for _, issue := range issues {
			fmt.Printf("skip\t%s\t%v\n", issue.File, issue.Err)
		}
		fmt.Printf("%d loaded, %d skipped\n", snap.Len(), len(issues))
		if len(issues) > 0 {
			return fmt.Errorf("%d definition file(s) invalid", len(issues))
		}
		return nil
	},
}

func newEngine(gw core.Gateway) (*chatmesh.ChatMesh, error) {
	return chatmesh.New(gw, entityDir, func(o *chatmesh.Options) {
		o.Logger = logger
		o.HistoryLimit = histLimit
		o.MaxHops = maxHops
		o.TurnBudget = turnBudget
		o.TurnDelay = turnDelay
		o.Defaults = router.Defaults{
			Model:  defaultModel,
			APIKey: os.Getenv("OPENAI_API_KEY"),
			APIURL: os.Getenv("OPENAI_BASE_URL"),
		}
	})
}

func reportEntities(engine *chatmesh.ChatMesh) {
	entities := engine.Entities()
	logger.Info("entity system ready", "entities", len(entities))
	for _, e := range entities {
		logger.Info("entity loaded", "handle", e.Handle, "name", e.Name, "model", e.Model)
	}
	for _, issue := range engine.LoadIssues() {
		logger.Warn("definition file skipped", "file", issue.File, "error", issue.Err)
	}
}

// localCommand handles "/" commands in local mode; returns true on /quit.
func localCommand(ctx context.Context, engine *chatmesh.ChatMesh, channelID, line string) bool {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit":
		return true
	case "speak":
		if err := engine.Speak(ctx, channelID, fields[1:]...); err != nil {
			fmt.Println("speak:", err)
		}
	case "chat":
		if _, err := engine.StartConversation(ctx, channelID, fields[1:], 0); err != nil {
			fmt.Println("chat:", err)
		}
	case "stop":
		engine.Pause(0)
		fmt.Println("entity activity paused")
	case "resume":
		engine.Resume()
		fmt.Println("entity activity resumed")
	case "status":
		st := engine.Status()
		fmt.Printf("entities=%d paused=%s\n", st.EntityCount, st.PausedFor)
		if st.Session != nil {
			fmt.Printf("session: %s (turn %d/%d)\n", strings.Join(st.Session.Participants, ", "), st.Session.TurnsDone, st.Session.TurnBudget)
		}
	default:
		fmt.Println("commands: /speak [handle ...], /chat [handle ...], /stop, /resume, /status, /quit")
	}
	return false
}

func parseLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&entityDir, "entities", "e", "entity_definitions", "directory of entity definition files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&defaultModel, "model", core.DefaultModel, "default model for entities without one")
	rootCmd.PersistentFlags().IntVar(&histLimit, "history", 0, "messages of channel history per response (0 = default)")
	rootCmd.PersistentFlags().IntVar(&maxHops, "max-hops", 1, "automatic cross-entity reply depth")
	rootCmd.PersistentFlags().IntVar(&turnBudget, "turns", 10, "default conversation turn budget")
	rootCmd.PersistentFlags().DurationVar(&turnDelay, "turn-delay", 2*time.Second, "delay between conversation turns")

	rootCmd.AddCommand(runCmd, localCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
