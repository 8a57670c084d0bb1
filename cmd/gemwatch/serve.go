package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gemwatch/internal/config"
	"gemwatch/internal/correlator"
	"gemwatch/internal/dedup"
	"gemwatch/internal/domain"
	"gemwatch/internal/eventlog"
	"gemwatch/internal/fanout"
	"gemwatch/internal/ingest"
	"gemwatch/internal/jobs"
	"gemwatch/internal/observability"
	"gemwatch/internal/outcomes"
	"gemwatch/internal/parser"
	"gemwatch/internal/readapi"
	"gemwatch/internal/tokenstate"
)

// unrecoverableAuthError marks a startup failure spec §6 maps to exit code
// 3 (unrecoverable ingest auth failure), as opposed to exit code 2 for any
// other configuration problem.
type unrecoverableAuthError struct{ err error }

func (e *unrecoverableAuthError) Error() string { return e.err.Error() }
func (e *unrecoverableAuthError) Unwrap() error { return e.err }

func exitCodeForError(err error) int {
	if err == nil {
		return config.ExitOK
	}
	for e := err; e != nil; {
		if _, ok := e.(*unrecoverableAuthError); ok {
			return config.ExitUnrecoverableAuth
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return config.ExitConfigError
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the full ingest → correlate → alert pipeline",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("gemwatch: shutdown signal received, draining")
		cancel()
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Warn("gemwatch: second signal received, forcing exit")
			os.Exit(1)
		case <-time.After(15 * time.Second):
			log.Warn("gemwatch: shutdown grace period exceeded, forcing exit")
			os.Exit(1)
		}
	}()

	return pipeline.Run(ctx)
}

// pipeline holds every wired component of a running gemwatch process: the
// composition root the teacher's cmd/server.Server plays the same role
// for.
type pipeline struct {
	cfg *config.Config
	log logrus.FieldLogger

	manager   *ingest.Manager
	store     *tokenstate.Store
	corr      *correlator.Correlator
	emitter   *dedup.Emitter
	evlog     *eventlog.Log
	mirror    *eventlog.RemoteMirror
	fanAsync  *fanout.AsyncAdapter
	scheduler *jobs.Scheduler
	httpSrv   *http.Server

	outcomesConn *outcomes.Conn

	parserWorkers int
	registry      *parser.Registry

	// correlatorCh is the Parser->Correlator channel from spec §5: every
	// parser worker feeds it, but exactly one goroutine (runCorrelator)
	// drains it, making that goroutine the sole linearizer for token-state
	// mutation, rule evaluation, and log appends — the same contract can
	// never be evaluated by two goroutines at once.
	correlatorCh chan parsedMessage

	wg sync.WaitGroup
}

// parsedMessage pairs a successfully parsed event with the ingest-time
// reading its latency is measured against.
type parsedMessage struct {
	evt     *domain.ParsedEvent
	started time.Time
}

// CorrelatorChannelBuffer matches spec §5's "Parser->Correlator single
// channel buffer 4096".
const CorrelatorChannelBuffer = 4096

func buildPipeline(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*pipeline, error) {
	var mirror *eventlog.RemoteMirror
	if cfg.MirrorDSN != "" {
		m, err := eventlog.NewRemoteMirror(ctx, cfg.MirrorDSN, log)
		if err != nil {
			return nil, fmt.Errorf("gemwatch: connect remote mirror: %w", err)
		}
		mirror = m
	}

	evlog, err := eventlog.Open(cfg.DurableLogPath, mirror, log)
	if err != nil {
		return nil, fmt.Errorf("gemwatch: open durable log: %w", err)
	}
	if mirror != nil {
		missing, err := mirror.ReconcileOnStart(ctx, evlog.LocalIDs())
		if err != nil {
			log.WithError(err).Warn("gemwatch: startup mirror reconciliation failed")
		} else if len(missing) > 0 {
			if _, err := evlog.MergeMissing(ctx, missing); err != nil {
				log.WithError(err).Warn("gemwatch: merging mirror records at startup failed")
			}
		}
	}

	var outcomesStore outcomes.Store
	var conn *outcomes.Conn
	if cfg.OutcomesClickhouseDSN != "" {
		c, err := outcomes.NewConn(ctx, cfg.OutcomesClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("gemwatch: connect outcomes store: %w", err)
		}
		conn = c
		outcomesStore = outcomes.NewClickHouseStore(conn)
	} else {
		log.Warn("gemwatch: no outcomes_clickhouse_dsn configured, churn_penalty disabled")
		outcomesStore = outcomes.NewMemoryStore()
	}

	thresholds := correlator.NewThresholdTrackerFrom(cfg.Thresholds)
	store := tokenstate.New()
	corr := correlator.New(outcomesStore, evlog, thresholds)

	subRegistry := fanout.NewMemoryRegistry()
	baseAdapter, err := buildBaseAdapter(cfg, subRegistry, log)
	if err != nil {
		return nil, err
	}
	asyncAdapter := fanout.NewAsyncAdapter(baseAdapter, log)

	var quotes dedup.QuoteService
	if cfg.QuoteServiceEndpoint != "" {
		quotes = dedup.NewHTTPQuoteService(cfg.QuoteServiceEndpoint)
	} else {
		log.Warn("gemwatch: no quote_service_endpoint configured, live enrichment disabled")
	}

	emitter := dedup.New(quotes, evlog, asyncAdapter, store, log)

	parserRegistry := parser.NewRegistry()
	for _, src := range cfg.Sources {
		parserRegistry.RegisterSource(src.ID, parser.SourceConfig{Kind: src.Kind})
	}

	manager := ingest.NewManager(logrus.StandardLogger(), ingest.DefaultSessionConfig())
	for _, src := range cfg.Sources {
		manager.AddSource(src.ID, ingest.NewWSSource(src.ID, ingest.DefaultWSSourceConfig(src.Endpoint)))
	}

	scheduler := jobs.New(log)
	if err := scheduler.RegisterStateEviction(cfg.Jobs.StateEvictionCron, store); err != nil {
		return nil, fmt.Errorf("gemwatch: register state eviction job: %w", err)
	}
	if err := scheduler.RegisterThresholdRecompute(cfg.Jobs.ThresholdRecomputeCron, thresholds, evlog); err != nil {
		return nil, fmt.Errorf("gemwatch: register threshold recompute job: %w", err)
	}
	if mirror != nil {
		if err := scheduler.RegisterMirrorReconcile(cfg.Jobs.MirrorReconcileCron, mirror, evlog); err != nil {
			return nil, fmt.Errorf("gemwatch: register mirror reconcile job: %w", err)
		}
	}

	mux := http.NewServeMux()
	apiServer := readapi.New(evlog, subRegistry, log)
	mux.Handle("/", apiServer)
	mux.Handle("/metrics", observability.Handler())
	httpSrv := &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux}

	return &pipeline{
		cfg:           cfg,
		log:           log,
		manager:       manager,
		store:         store,
		corr:          corr,
		emitter:       emitter,
		evlog:         evlog,
		mirror:        mirror,
		fanAsync:      asyncAdapter,
		scheduler:     scheduler,
		httpSrv:       httpSrv,
		outcomesConn:  conn,
		parserWorkers: 4,
		registry:      parserRegistry,
		correlatorCh:  make(chan parsedMessage, CorrelatorChannelBuffer),
	}, nil
}

// buildBaseAdapter constructs the unwrapped delivery adapter: Telegram if
// a bot token is configured, otherwise the safe structured-log default.
// gemwatch has no subscriber-management API of its own in this spec;
// operators seed subscribers into registry out of band.
func buildBaseAdapter(cfg *config.Config, registry fanout.SubscriberRegistry, log logrus.FieldLogger) (fanout.Adapter, error) {
	if cfg.TelegramBotToken == "" {
		return fanout.NewLogAdapter(log), nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, &unrecoverableAuthError{err: fmt.Errorf("gemwatch: telegram bot auth: %w", err)}
	}
	return fanout.NewTelegramAdapter(bot, registry, cfg.TelegramBroadcastChatID, log), nil
}

// Run starts every task and blocks until ctx is cancelled, then drains per
// spec §5: stop accepting new ingest, let in-flight correlation/emission
// finish, give the mirror 5s to finish its current cycle.
func (p *pipeline) Run(ctx context.Context) error {
	errCh := make(chan error, 4)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.manager.Run(ctx); err != nil {
			errCh <- fmt.Errorf("ingest: %w", err)
		}
	}()

	for i := 0; i < p.parserWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runParserWorker(ctx)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runCorrelator(ctx)
	}()

	if p.mirror != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.mirror.Run(ctx)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.fanAsync.Run(ctx)
	}()

	p.scheduler.Start()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("readapi: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = p.httpSrv.Shutdown(shutdownCtx)
	p.scheduler.Stop(shutdownCtx)

	p.wg.Wait()

	if p.mirror != nil {
		mirrorCtx, mirrorCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer mirrorCancel()
		<-mirrorCtx.Done()
	}

	return runErr
}

// runParserWorker is the stateless parser pool task (spec §5): it only
// parses a raw message and applies the ingest-latency-budget drop, a pure
// per-message filter that touches no shared state. Every event that
// survives is handed off to the single correlator task over correlatorCh —
// parser workers never touch tokenstate.Store, the correlator, or the
// emitter directly, so running several of them concurrently cannot race
// on a contract.
func (p *pipeline) runParserWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.manager.Messages():
			if !ok {
				return
			}
			p.handleMessage(ctx, msg)
		}
	}
}

func (p *pipeline) handleMessage(ctx context.Context, msg domain.RawMessage) {
	started := msg.ReceivedAt

	evt, err := p.registry.Parse(msg)
	if err != nil {
		observability.RecordParserDrop(msg.SourceID, "no_match")
		return
	}
	observability.RecordParsed(msg.SourceID)

	if !evt.SourceWallClock.IsZero() && time.Since(evt.SourceWallClock) > p.cfg.IngestLatencyBudget {
		observability.RecordStaleEventDropped(msg.SourceID)
		return
	}

	select {
	case p.correlatorCh <- parsedMessage{evt: evt, started: started}:
	case <-ctx.Done():
	}
}

// runCorrelator is the single correlator/emitter task spec §5 mandates:
// every state mutation (ObserveTrendingEcho, Upsert, rule evaluation, the
// dedup check through mark_alerted, and the log append) happens here and
// only here, so two events for the same contract can never both pass the
// dedup check before either one records the alert.
func (p *pipeline) runCorrelator(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.correlatorCh:
			if !ok {
				return
			}
			p.correlate(ctx, msg)
		}
	}
}

func (p *pipeline) correlate(ctx context.Context, msg parsedMessage) {
	evt := msg.evt

	p.corr.ObserveTrendingEcho(ctx, evt)

	state, ok, err := p.store.Upsert(ctx, evt)
	if err != nil {
		p.log.WithError(err).WithField("contract", evt.ContractAddress).Warn("gemwatch: upsert failed")
		return
	}
	if !ok {
		return
	}
	observability.RecordIngestLatency(time.Since(msg.started).Seconds())

	candidate, err := p.corr.Evaluate(ctx, state)
	if err != nil {
		p.log.WithError(err).WithField("contract", state.ContractAddress).Error("gemwatch: correlator evaluation failed")
		return
	}
	if candidate == nil {
		return
	}

	if _, _, err := p.emitter.Emit(ctx, candidate); err != nil {
		p.log.WithError(err).WithField("contract", state.ContractAddress).Error("gemwatch: emit failed")
	}
}

// Close releases every collaborator holding an external connection.
func (p *pipeline) Close() {
	_ = p.manager.Close()
	if p.mirror != nil {
		p.mirror.Close()
	}
	if p.outcomesConn != nil {
		p.outcomesConn.Close()
	}
}
