package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gemwatch/internal/config"
	"gemwatch/internal/correlator"
	"gemwatch/internal/domain"
	"gemwatch/internal/outcomes"
	"gemwatch/internal/parser"
	"gemwatch/internal/verification"
)

var (
	recoverInputPath string
	recoverOutputLog string
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "replay a JSONL backfill file through the parser and correlator with ingestion disabled",
	RunE:  runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverInputPath, "input", "", "path to a JSONL file of backfilled chat messages (required)")
	recoverCmd.Flags().StringVar(&recoverOutputLog, "out", "./data/recovered.json", "durable log path to write replayed alerts to")
	recoverCmd.MarkFlagRequired("input")
}

// backfillLine is the JSONL wire shape for one recover --input record: a
// plain rendering of domain.RawMessage, independent of whatever wire
// format the live source adapters used to produce it.
type backfillLine struct {
	SourceID   string       `json:"source_id"`
	ReceivedAt time.Time    `json:"received_at"`
	Text       string       `json:"text"`
	Entities   []entityLine `json:"entities,omitempty"`
	ThreadID   string       `json:"thread_id,omitempty"`
}

type entityLine struct {
	URL        string `json:"url"`
	AnchorText string `json:"anchor_text"`
}

func runRecover(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})

	registry := parser.NewRegistry()
	for _, src := range cfg.Sources {
		registry.RegisterSource(src.ID, parser.SourceConfig{Kind: src.Kind})
	}

	messages, err := readBackfillFile(recoverInputPath)
	if err != nil {
		return fmt.Errorf("gemwatch recover: %w", err)
	}
	log.WithField("count", len(messages)).Info("gemwatch recover: loaded backfill messages")

	events := make([]domain.ParsedEvent, 0, len(messages))
	skipped := 0
	for _, msg := range messages {
		evt, err := registry.Parse(msg)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, *evt)
	}
	log.WithFields(logrus.Fields{"parsed": len(events), "skipped_no_match": skipped}).Info("gemwatch recover: parsed backfill messages")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcomesStore := outcomes.NewMemoryStore()
	history := emptyAlertHistory{}

	ids, err := verification.ReplayAlertIDs(ctx, events, recoverOutputLog, outcomesStore, history)
	if err != nil {
		return fmt.Errorf("gemwatch recover: replay: %w", err)
	}

	log.WithFields(logrus.Fields{"alerts_emitted": len(ids), "log_path": recoverOutputLog}).Info("gemwatch recover: replay complete")
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// emptyAlertHistory is the churn_penalty history a recover run starts
// from: backfill replays are offline, one-shot runs with no prior alert
// state to consult.
type emptyAlertHistory struct{}

func (emptyAlertHistory) LastAlertedAt(ctx context.Context, symbol string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (emptyAlertHistory) UpdateCallersSubs(ctx context.Context, symbol string, tier *domain.Tier, callers, subs int) error {
	return nil
}

func readBackfillFile(path string) ([]domain.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []domain.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var bl backfillLine
		if err := json.Unmarshal(line, &bl); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entities := make([]domain.Entity, len(bl.Entities))
		for i, e := range bl.Entities {
			entities[i] = domain.Entity{URL: e.URL, AnchorText: e.AnchorText}
		}
		out = append(out, domain.RawMessage{
			SourceID:   bl.SourceID,
			ReceivedAt: bl.ReceivedAt,
			Text:       bl.Text,
			Entities:   entities,
			ThreadID:   bl.ThreadID,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

var _ correlator.AlertHistory = emptyAlertHistory{}
