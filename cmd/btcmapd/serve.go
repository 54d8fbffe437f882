package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/btcconfig"
	"github.com/btcmap/btcmap-api/internal/httpapi"
	"github.com/btcmap/btcmap-api/internal/ingest"
	"github.com/btcmap/btcmap-api/internal/invoice"
	"github.com/btcmap/btcmap-api/internal/issuegen"
	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/rpcserver"
	"github.com/btcmap/btcmap-api/internal/storagedb"
	"github.com/btcmap/btcmap-api/internal/types"
	"github.com/btcmap/btcmap-api/internal/usersync"
)

var serveSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the RPC and sync-feed HTTP listener plus its periodic jobs",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// unconfiguredUpstream stands in for the upstream geographic query API and
// upstream OSM user API (spec.md §1 "out of scope... the upstream
// geographic database"): no concrete vendor is wired, so both periodic
// jobs that depend on it log a clear failure each tick instead of a nil
// pointer panic.
type unconfiguredUpstream struct{}

func (unconfiguredUpstream) FetchSnapshot(ctx context.Context) ([]types.OverpassElement, error) {
	return nil, apperr.UpstreamUnavailable("no upstream geographic database provider configured")
}

func (unconfiguredUpstream) FetchProfiles(ctx context.Context, ids []int64) (map[int64]string, error) {
	return nil, apperr.UpstreamUnavailable("no upstream osm user provider configured")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := btcconfig.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.NewStderr(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	dataDirLock := flock.New(filepath.Join(cfg.DataDir, ".btcmapd.lock"))
	locked, err := dataDirLock.TryLock()
	if err != nil {
		return fmt.Errorf("locking data directory %s: %w", cfg.DataDir, err)
	}
	if !locked {
		return fmt.Errorf("data directory %s is already in use by another btcmapd serve instance", cfg.DataDir)
	}
	defer dataDirLock.Unlock()

	eng, err := storagedb.Open(cfg.PrimaryDBPath(), cfg.LogDBPath(), storagedb.Options{
		PoolSize:      cfg.PoolSize,
		BusyTimeoutMS: cfg.BusyTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("opening storage engine: %w", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}

	repos := eng.NewRepos()

	if err := seedAdmins(ctx, cfg.SeedAdminFile, repos, log.With("component", "seed")); err != nil {
		return fmt.Errorf("seeding admins: %w", err)
	}

	invoiceSource, invoiceProvider, err := buildInvoiceProvider(ctx, repos)
	if err != nil {
		return fmt.Errorf("configuring invoice provider: %w", err)
	}
	invoices := invoice.NewEngine(invoiceProvider, invoiceSource, repos.Invoices, repos.Elements, repos.ElementComments, log.With("component", "invoice"), time.Hour)

	mergeChangeBuffer, err := repos.Conf.GetIntOrDefault(ctx, "merge_change_buffer", 512)
	if err != nil {
		return fmt.Errorf("reading merge_change_buffer: %w", err)
	}
	merger := ingest.NewEngine(eng.Primary, repos.Elements, repos.Conf, unconfiguredUpstream{}, log.With("component", "ingest"), mergeChangeBuffer)
	userSync := usersync.NewEngine(repos.OsmUsers, unconfiguredUpstream{}, log.With("component", "usersync"))

	maxConns, err := repos.Conf.GetIntOrDefault(ctx, "rpc_max_conns", 100)
	if err != nil {
		return fmt.Errorf("reading rpc_max_conns: %w", err)
	}
	server := rpcserver.NewServer(repos.AccessTokens, repos.Users, repos.Bans, repos.RpcCalls, log.With("component", "rpc"), maxConns)
	rpcserver.RegisterAll(server, &rpcserver.Deps{Repos: repos, Invoices: invoices, Merger: merger})

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.Handle("/", httpapi.NewRouter(repos))

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	runJobLoop(ctx, cancel, log, jobs{
		repos:    repos,
		invoices: invoices,
		merger:   merger,
		userSync: userSync,
	}, httpServer, serverErrChan)

	return nil
}

// buildInvoiceProvider picks the pluggable lightning provider named by the
// conf table's invoice_provider key (spec §6 "conf table holds provider
// keys"), defaulting to lnbits.
func buildInvoiceProvider(ctx context.Context, repos *storagedb.Repos) (types.InvoiceSource, invoice.Provider, error) {
	source, err := repos.Conf.GetOrDefault(ctx, "invoice_provider", string(types.InvoiceSourceLnbits))
	if err != nil {
		return "", nil, err
	}

	switch types.InvoiceSource(source) {
	case types.InvoiceSourceLnd:
		baseURL, err := repos.Conf.GetOrDefault(ctx, "lnd_base_url", "")
		if err != nil {
			return "", nil, err
		}
		macaroon, err := repos.Conf.GetOrDefault(ctx, "lnd_invoices_macaroon", "")
		if err != nil {
			return "", nil, err
		}
		return types.InvoiceSourceLnd, invoice.NewLndProvider(baseURL, macaroon, false), nil
	default:
		baseURL, err := repos.Conf.GetOrDefault(ctx, "lnbits_base_url", "")
		if err != nil {
			return "", nil, err
		}
		apiKey, err := repos.Conf.GetOrDefault(ctx, "lnbits_invoice_key", "")
		if err != nil {
			return "", nil, err
		}
		return types.InvoiceSourceLnbits, invoice.NewLnbitsProvider(baseURL, apiKey), nil
	}
}

type jobs struct {
	repos    *storagedb.Repos
	invoices *invoice.Engine
	merger   *ingest.Engine
	userSync *usersync.Engine
}

// runJobLoop mirrors the teacher's runEventDrivenLoop in
// cmd/bd/daemon_event_loop.go: one ticker per background concern plus a
// signal channel, all funneled into a single select loop, generalized per
// SPEC_FULL.md §5 from the teacher's parentCheckTicker/healthTicker/
// remoteSyncTicker into mergeTicker/issueGenTicker/invoicePollTicker/
// userSyncTicker.
func runJobLoop(ctx context.Context, cancel context.CancelFunc, log logging.Logger, j jobs, httpServer *http.Server, serverErrChan chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, serveSignals...)
	defer signal.Stop(sigChan)

	mergeTicker := time.NewTicker(5 * time.Minute)
	defer mergeTicker.Stop()
	issueGenTicker := time.NewTicker(15 * time.Minute)
	defer issueGenTicker.Stop()
	invoicePollTicker := time.NewTicker(30 * time.Second)
	defer invoicePollTicker.Stop()
	userSyncTicker := time.NewTicker(time.Hour)
	defer userSyncTicker.Stop()

	shutdown := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutting down http server", "error", err)
		}
	}

	for {
		select {
		case <-mergeTicker.C:
			if _, _, _, err := j.merger.MergeAll(ctx); err != nil {
				log.Error("upstream merge failed", "error", err)
			}
		case <-issueGenTicker.C:
			runIssueGen(ctx, j.repos, log)
		case <-invoicePollTicker.C:
			if err := j.invoices.PollUnpaid(ctx); err != nil {
				log.Error("polling unpaid invoices failed", "error", err)
			}
		case <-userSyncTicker.C:
			if err := syncKnownUsers(ctx, j.repos, j.userSync); err != nil {
				log.Error("user sync failed", "error", err)
			}
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
			shutdown()
			return
		case <-ctx.Done():
			shutdown()
			return
		case err := <-serverErrChan:
			log.Error("http server failed", "error", err)
			cancel()
			shutdown()
			return
		}
	}
}

func runIssueGen(ctx context.Context, repos *storagedb.Repos, log logging.Logger) {
	elements, err := repos.Elements.SelectAllLive(ctx)
	if err != nil {
		log.Error("loading live elements for issue generation failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, el := range elements {
		if err := issuegen.Reconcile(ctx, repos.ElementIssues, el.ID, el.OverpassData, el.Tags, now); err != nil {
			log.Error("reconciling element issues failed", "element_id", el.ID, "error", err)
		}
	}
}

// syncKnownUsers refreshes every identity already mirrored locally.
// Discovering brand-new upstream user ids is the upstream geographic
// database collaborator's job (elements carry contributor references in
// their overpass_data, not a foreign key this schema tracks); this job
// only keeps what's already mirrored current.
func syncKnownUsers(ctx context.Context, repos *storagedb.Repos, userSync *usersync.Engine) error {
	users, err := repos.OsmUsers.SelectAllLive(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return userSync.SyncIDs(ctx, ids)
}
