package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oru-labs/runloop"
	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/logging"
	"github.com/oru-labs/runloop/model"
	"github.com/oru-labs/runloop/model/anthropic"
	"github.com/oru-labs/runloop/model/openai"
	"github.com/oru-labs/runloop/runstate"
	"github.com/oru-labs/runloop/runstate/sqlite"
	"github.com/oru-labs/runloop/tool"
)

var (
	dbFlag           string
	providerFlag     string
	modelFlag        string
	instructionsFlag string
	maxTurnsFlag     int
	messageFlag      string
	statusFlag       string
	limitFlag        int
)

var rootCmd = &cobra.Command{
	Use:   "runloop",
	Short: "runloop - drive tool-using agentic runs against a model provider",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a run and stream its events",
	RunE:  runRun,
}

var getCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Print the stored snapshot of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs",
	RunE:  runList,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path (empty = in-memory store)")

	runCmd.Flags().StringVar(&providerFlag, "provider", "anthropic", "Model provider: anthropic, openai or mock")
	runCmd.Flags().StringVar(&modelFlag, "model", "", "Model identifier override")
	runCmd.Flags().StringVar(&instructionsFlag, "instructions", "", "System prompt for the run")
	runCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", 200, "Turn budget before the run ends incomplete")
	runCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "User message to send")
	_ = runCmd.MarkFlagRequired("message")

	listCmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (queued, running, completed, failed, incomplete)")
	listCmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum number of runs to return (0 = all)")

	rootCmd.AddCommand(runCmd, getCmd, listCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the CLI's structured logger. RUNLOOP_LOG_LEVEL=debug
// raises verbosity; output goes to stderr so stdout stays parseable.
func newLogger() *logging.RunLogger {
	level := logging.LogLevelInfo
	if os.Getenv("RUNLOOP_LOG_LEVEL") == "debug" {
		level = logging.LogLevelDebug
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: "json",
		Output: os.Stderr,
	})
}

// openStore picks the run store from the --db flag.
func openStore() (runstate.Store, func(), error) {
	if dbFlag == "" {
		return runstate.NewInMemoryStore(), func() {}, nil
	}
	store, err := sqlite.Open(dbFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("open run store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// buildModel picks the provider adapter from flags.
func buildModel() (model.Model, error) {
	switch providerFlag {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if modelFlag != "" {
				o.Model = sdk.Model(modelFlag)
			}
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if modelFlag != "" {
				o.Model = modelFlag
			}
		}), nil
	case "mock":
		return model.NewMockModel("mock", "mock"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai or mock)", providerFlag)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	m, err := buildModel()
	if err != nil {
		return err
	}

	logger := newLogger()

	orch := runloop.New(m, func(o *runloop.Options) {
		o.RunStore = store
		o.MaxTurns = maxTurnsFlag
		o.Instructions = instructionsFlag
		o.Logger = logger.WithComponent("runner")
	})
	orch.RegisterTool(tool.NewScratchpadTool())

	runID, eventsCh, errorsCh, err := orch.Invoke(ctx, core.NewUserContent(messageFlag))
	if err != nil {
		return err
	}

	logger.WithComponent("cli").WithRun(runID).Info("run started", "provider", providerFlag)

	for ev := range eventsCh {
		switch ev.Type {
		case core.EventContent:
			if ev.Partial {
				fmt.Print(ev.Content)
			} else {
				fmt.Println(ev.Content)
			}
		case core.EventToolCall:
			fmt.Fprintf(os.Stderr, "[tool call] %s (%s)\n", ev.ToolName, ev.ToolCallID)
		case core.EventToolResult:
			if ev.ToolError != "" {
				fmt.Fprintf(os.Stderr, "[tool error] %s: %s\n", ev.ToolName, ev.ToolError)
			} else {
				fmt.Fprintf(os.Stderr, "[tool done] %s\n", ev.ToolName)
			}
		case core.EventError:
			fmt.Fprintf(os.Stderr, "[error] %s\n", ev.Content)
		case core.EventDone:
			fmt.Fprintf(os.Stderr, "[done] turn %d\n", ev.Turn)
		}
	}
	for err := range errorsCh {
		if err != nil {
			return err
		}
	}

	run, err := orch.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	return printJSON(run)
}

func runGet(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	run, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	return printJSON(run)
}

func runList(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := store.List(context.Background(), runstate.Filter{
		Status: core.RunStatus(statusFlag),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}
	for _, run := range runs {
		if err := printJSON(run); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
