// Command triage-chat runs a chat consultation in the terminal. Without
// --remote every answer comes from the offline triage assistant.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/room4-2/GramHealth/config"
	"github.com/room4-2/GramHealth/consult"
	"github.com/room4-2/GramHealth/gemini"
	"github.com/room4-2/GramHealth/triage"
)

// printer writes assistant turns and notices as they happen. Events arrive
// from timer goroutines, so every write goes through mu.
type printer struct {
	consult.NopEvents
	mu        sync.Mutex
	out       io.Writer
	once      sync.Once
	connected chan struct{}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) TurnAppended(_ string, turn consult.Turn) {
	if turn.Speaker != consult.SpeakerAssistant {
		return
	}
	tag := string(turn.Source)
	if turn.ResponseKey != "" {
		tag += " " + string(turn.ResponseKey)
	}
	p.printf("doctor [%s]> %s\n", tag, turn.Text)
	if turn.Source == consult.SourceGreeting {
		p.once.Do(func() { close(p.connected) })
	}
}

func (p *printer) Notice(_ string, notice consult.Notice) {
	p.printf("(%s) %s\n", notice.Level, notice.Message)
}

func main() {
	var (
		remote      bool
		catalogFile string
	)
	cmd := &cobra.Command{
		Use:   "triage-chat",
		Short: "Chat with the consultation assistant from a terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})

			cfg := consult.DefaultConfig()
			if catalogFile != "" {
				catalog, err := triage.LoadCatalog(catalogFile)
				if err != nil {
					return err
				}
				cfg.Catalog = catalog
			}

			var advisor consult.Advisor
			if remote {
				appCfg, err := config.LoadConfig()
				if err != nil {
					return err
				}
				client, err := gemini.NewClient(cmd.Context(), appCfg.GeminiAPIKey)
				if err != nil {
					return err
				}
				advisor = gemini.NewAdvisor(client, appCfg.AdvisorModel)
			}
			return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), advisor, cfg)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the Gemini advisor first (needs GEMINI_API_KEY)")
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML file overriding the canned responses")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer, advisor consult.Advisor, cfg consult.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &printer{out: out, connected: make(chan struct{})}
	c := consult.NewController(advisor, consult.SpeechDevice{}, p, cfg)
	defer c.Dispose()

	p.printf("connecting...\n")
	if _, err := c.Open(ctx, consult.ModalityChat); err != nil {
		return err
	}
	select {
	case <-p.connected:
	case <-ctx.Done():
		return ctx.Err()
	}

	scanner := bufio.NewScanner(in)
	for {
		p.printf("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" || line == "/end" {
			break
		}
		if _, err := c.SendUserText(ctx, line); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	p.printf("\n")

	if snap, ok := c.Snapshot(); ok {
		p.printf("phase %s, symptom %s, %d turns\n", snap.Triage.Phase, snap.Triage.Symptom, len(snap.Transcript))
	}
	return scanner.Err()
}
