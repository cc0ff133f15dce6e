package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"onebridge/pkg/config"
	"onebridge/pkg/gateway"
	"onebridge/pkg/logger"
	"onebridge/pkg/onebot"
	"onebridge/pkg/router"
	"onebridge/pkg/ui/console"
)

var consoleLogFile string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the bridge from the terminal",
	Long: "Runs the same plugins, group policy and backend as serve, but feeds messages typed in the " +
		"terminal instead of gateway frames. Use :group [id] and :private to switch conversations.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, closeLog, err := consoleLogger(cfg.Logging, consoleLogFile)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		defer closeLog()
		slog.SetDefault(appLogger)

		pipeline, err := gateway.NewPipeline(cfg, appLogger)
		if err != nil {
			return fmt.Errorf("initialize pipeline: %w", err)
		}
		defer pipeline.Close()

		identity := console.Identity{
			UserID:   cfg.Console.UserID,
			Nickname: cfg.Console.Nickname,
			GroupID:  cfg.Console.GroupID,
			Provider: cfg.Backend.Provider,
			Model:    cfg.Backend.Model,
		}
		return console.Run(cmd.Context(), routerDispatch(pipeline.Router), identity)
	},
}

func init() {
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "", "write logs to this file instead of discarding them")
	rootCmd.AddCommand(consoleCmd)
}

// consoleLogger keeps log output off the terminal the console draws on.
func consoleLogger(cfg config.LoggingConfig, path string) (*slog.Logger, func(), error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return logger.Discard(), func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	log, err := logger.NewWithWriter(cfg, file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return log, func() { file.Close() }, nil
}

type dispatcher interface {
	Dispatch(ctx context.Context, sender router.Sender, event onebot.MessageEvent) router.Outcome
}

// captureSender records the action the pipeline would have written to the gateway.
type captureSender struct {
	mu      sync.Mutex
	actions []onebot.Action
}

func (s *captureSender) Send(action onebot.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *captureSender) last() (onebot.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.actions) == 0 {
		return onebot.Action{}, false
	}
	return s.actions[len(s.actions)-1], true
}

func routerDispatch(d dispatcher) console.DispatchFunc {
	return func(ctx context.Context, event onebot.MessageEvent) (console.Reply, error) {
		sender := &captureSender{}
		outcome := d.Dispatch(ctx, sender, event)

		reply := console.Reply{Route: string(outcome.Route), Plugin: outcome.PluginID}
		if outcome.Route == router.RouteSendFailed {
			return reply, outcome.Err
		}
		if action, ok := sender.last(); ok {
			reply.Action = string(action.Action)
			reply.Text = action.Params.Message
		}
		return reply, nil
	}
}
