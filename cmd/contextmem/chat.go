package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/contextmem/contextmem"
	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/logger"
	"github.com/contextmem/contextmem/pkg/store"
	"github.com/contextmem/contextmem/pkg/telemetry"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation with memory",
	Long: `Read messages from stdin, run each through the extraction pipeline,
and print the extracted knowledge together with the memory context retrieved
for the turn. With --respond and an OPENAI_API_KEY, a grounded answer is
drafted for each message.`,
	RunE: runChat,
}

var (
	chatSession string
	chatUser    string
	chatRespond bool
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id (default is a fresh uuid)")
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "user id")
	chatCmd.Flags().BoolVar(&chatRespond, "respond", false, "draft a grounded answer per turn")
}

// newOrchestrator builds the orchestrator with the full telemetry stack:
// error logs flow through the Parquet and SQL slog handlers, turn metrics
// through the Parquet tracker. The returned cleanup flushes the handlers
// after the orchestrator is closed.
func newOrchestrator(opts ...contextmem.Option) (*contextmem.Orchestrator, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	var s *store.SQLite
	if cfg.Store.Path == ":memory:" {
		s, err = store.OpenMemory()
	} else {
		s, err = store.Open(cfg.Store.Path)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	handler := logger.NewHandler(cfg.Log)
	var parquetHandler *telemetry.ParquetHandler
	if cfg.Telemetry.ParquetPath != "" {
		parquetHandler, err = telemetry.NewParquetHandler(handler, cfg.Telemetry.ParquetPath, cfg.Telemetry.BatchSize)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parquet telemetry disabled:", err)
			parquetHandler = nil
		} else {
			handler = parquetHandler
		}
	}
	sqlHandler, err := telemetry.NewSQLHandler(handler, s.DB())
	if err != nil {
		fmt.Fprintln(os.Stderr, "sql telemetry disabled:", err)
	} else {
		handler = sqlHandler
	}

	opts = append(opts,
		contextmem.WithStore(s),
		contextmem.WithLogger(slog.New(handler)))

	if cfg.Telemetry.ParquetPath != "" {
		tracker, err := telemetry.NewParquetTracker(cfg.Telemetry.ParquetPath, cfg.Telemetry.BatchSize)
		if err != nil {
			fmt.Fprintln(os.Stderr, "turn tracking disabled:", err)
		} else {
			opts = append(opts, contextmem.WithTracker(tracker))
		}
	}

	cm, err := contextmem.New(cfg, opts...)
	if err != nil {
		s.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		cm.Close()
		if parquetHandler != nil {
			parquetHandler.Close()
		}
	}
	return cm, cfg, cleanup, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	opts := []contextmem.Option{}
	if chatRespond {
		opts = append(opts, contextmem.WithResponseGeneration(true))
	}
	cm, _, cleanup, err := newOrchestrator(opts...)
	if err != nil {
		return err
	}
	defer cleanup()

	if chatSession == "" {
		chatSession = uuid.New().String()
	}
	fmt.Printf("session %s (ctrl-d or /quit to exit, /close to end the episode)\n", chatSession)

	ctx := cmd.Context()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/close":
			if err := cm.CloseSession(ctx, chatSession); err != nil {
				fmt.Fprintln(os.Stderr, "close session:", err)
			}
			continue
		}

		result, err := cm.ProcessConversationTurn(ctx, chatSession, chatUser, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "turn failed:", err)
			continue
		}

		for _, e := range result.Extraction.Entities {
			fmt.Printf("  entity  %-30s %-13s %.2f %s\n", e.Name, e.Type, e.Confidence, e.ValidationLevel)
		}
		for _, f := range result.Extraction.Facts {
			fmt.Printf("  fact    %s %s %s\n", f.Subject, f.Predicate, f.Object)
		}
		for _, w := range result.Warnings {
			fmt.Printf("  warning %s\n", w)
		}
		if result.Memory != nil && result.Memory.Summary != "" {
			fmt.Printf("  memory  %s\n", result.Memory.Summary)
		}
		if result.Response != nil {
			fmt.Printf("\n%s\n", result.Response.Answer)
		}
	}
	return scanner.Err()
}
