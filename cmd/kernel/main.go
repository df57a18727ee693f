// Command kernel starts a single Schemat cluster member.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mwojnars/schemat-sub000/pkg/bootstrap"
	"github.com/mwojnars/schemat-sub000/pkg/events"
	"github.com/mwojnars/schemat-sub000/pkg/kernel"
	"github.com/mwojnars/schemat-sub000/pkg/log"
	"github.com/mwojnars/schemat-sub000/pkg/mailbox"
	"github.com/mwojnars/schemat-sub000/pkg/metrics"
	"github.com/mwojnars/schemat-sub000/pkg/node"
	"github.com/mwojnars/schemat-sub000/pkg/placement"
	"github.com/mwojnars/schemat-sub000/pkg/reconciler"
	"github.com/mwojnars/schemat-sub000/pkg/rpc"
	"github.com/mwojnars/schemat-sub000/pkg/storage"
	"github.com/mwojnars/schemat-sub000/pkg/tcp"
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kernel",
	Short: "Schemat agent-kernel launcher",
	Long: `kernel starts one member of a Schemat cluster: a master process
supervising a fixed pool of worker processes, each hosting agent
frames and routing RPCs through the node pseudo-agent's rpc_exec /
rpc_frwd / rpc_recv chain.

The same binary plays both roles. WORKER_ID in the environment selects
which: unset or "0" starts a master, any other value starts the
corresponding worker child — the master spawns these itself, so this
variable is normally left unset by hand outside of testing.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("schemat-kernel version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "path to the bootstrap manifest YAML (defaults to a single readonly ring, no peers)")
	rootCmd.PersistentFlags().String("node", "node-1", "this cluster member's node id")
	rootCmd.PersistentFlags().Int("workers", 2, "number of worker processes to spawn (master only)")
	rootCmd.PersistentFlags().String("host", "127.0.0.1", "bind host for the metrics/health HTTP server")
	rootCmd.PersistentFlags().Int("port", 9090, "bind port for the metrics/health HTTP server")
	rootCmd.PersistentFlags().Int("tcp-port", 7946, "bind port for the inter-node TCP transport (master only)")
	rootCmd.PersistentFlags().String("data-dir", "./data", "directory for the boltdb deployment/manifest store")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// run branches on WORKER_ID (spec §4.7): unset/"0" is the master, any
// other value is the 1-based worker the master spawned us as.
func run(cmd *cobra.Command, _ []string) error {
	raw := os.Getenv("WORKER_ID")
	if raw == "" || raw == "0" {
		return runMaster(cmd)
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return fmt.Errorf("cmd/kernel: invalid WORKER_ID %q", raw)
	}
	return runWorker(cmd, id)
}

// nodeLoader is the process's AgentLoader: it hands back the process's
// own *node.Node for the node pseudo-agent (id 0) and refuses anything
// else. Materializing an arbitrary web object is schemat.get_loaded's
// job, which is out of this repo's scope.
type nodeLoader struct {
	node types.Agent
}

func (l *nodeLoader) LoadAgent(id int64, role string) (types.Agent, error) {
	if id == 0 {
		if l.node == nil {
			return nil, fmt.Errorf("cmd/kernel: node pseudo-agent requested before it was constructed")
		}
		return l.node, nil
	}
	return nil, fmt.Errorf("cmd/kernel: cannot load agent %d/%s, schemat.get_loaded is out of scope", id, role)
}

// rpcDispatcher adapts a master's *node.Node into placement.Dispatcher:
// a deploy/adjust_replicas decision becomes an RPC addressed at the
// target node's $master.start_agent/stop_agent (spec §4.8/§4.9's
// cluster._start_agent).
type rpcDispatcher struct {
	node *node.Node
}

func (d *rpcDispatcher) StartAgent(ctx context.Context, targetNode string, agentID int64, role string, replicas int) error {
	args, err := rpc.EncodeArgs(agentID, map[string]any{"role": role, "replicas": replicas})
	if err != nil {
		return err
	}
	req := rpc.Request{
		RPC:  rpc.Call{Command: "start_agent", Args: args},
		Node: targetNode,
		Role: string(node.RoleMaster),
	}
	_, err = d.node.RPC(ctx, req)
	return err
}

func (d *rpcDispatcher) StopAgent(ctx context.Context, targetNode string, agentID int64, role string) error {
	args, err := rpc.EncodeArgs(agentID, map[string]any{"role": role})
	if err != nil {
		return err
	}
	req := rpc.Request{
		RPC:  rpc.Call{Command: "stop_agent", Args: args},
		Node: targetNode,
		Role: string(node.RoleMaster),
	}
	_, err = d.node.RPC(ctx, req)
	return err
}

func runMaster(cmd *cobra.Command) error {
	nodeID, _ := cmd.Flags().GetString("node")
	numWorkers, _ := cmd.Flags().GetInt("workers")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	tcpPort, _ := cmd.Flags().GetInt("tcp-port")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")

	logger := log.WithNodeID(nodeID)
	logger.Info().Int("workers", numWorkers).Str("config", configPath).Msg("starting master")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("cmd/kernel: creating data dir %q: %w", dataDir, err)
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("cmd/kernel: opening store: %w", err)
	}
	defer store.Close()

	manifest, err := bootstrap.Load(configPath)
	if err != nil {
		return fmt.Errorf("cmd/kernel: loading bootstrap manifest: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// Forward-reference: MasterKernel needs a loader now, but the
	// loader can only return the node pseudo-agent once node.NewMaster
	// has built it. Backfill loader.node right after.
	loader := &nodeLoader{}
	mk := kernel.NewMaster(loader, logger)

	sender := tcp.NewSender(0, 0)
	n := node.NewMaster(nodeID, mk, sender, logger)
	n.SetNumWorkers(numWorkers)
	n.LocalAtlas().SetBroker(broker)
	n.GlobalAtlas().SetBroker(broker)
	n.SetStore(store)
	loader.node = n

	ctx := context.Background()
	if _, err := mk.StartAgent(ctx, "node", 0, string(node.RoleMaster)); err != nil {
		return fmt.Errorf("cmd/kernel: starting node pseudo-agent: %w", err)
	}

	for _, p := range manifest.Peers {
		n.SetPeer(types.NodeInfo{ID: p.ID, TCPAddress: p.TCPAddress, NumWorkers: p.NumWorkers})
	}

	receiver, err := tcp.Listen(fmt.Sprintf("%s:%d", host, tcpPort), n.HandleTCP)
	if err != nil {
		return fmt.Errorf("cmd/kernel: listening on tcp port %d: %w", tcpPort, err)
	}
	defer receiver.Close()
	logger.Info().Str("addr", receiver.Addr().String()).Msg("tcp transport listening")

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cmd/kernel: resolving own executable path: %w", err)
	}
	workerArgs := []string{
		"--node", nodeID,
		"--data-dir", dataDir,
		"--config", configPath,
	}
	if err := mk.SpawnWorkers(ctx, numWorkers, binary, workerArgs, func(int) mailbox.Handler {
		return n.HandleIPC
	}); err != nil {
		return fmt.Errorf("cmd/kernel: spawning workers: %w", err)
	}
	mailboxes := make([]metrics.MailboxSource, 0, numWorkers)
	for w := 1; w <= numWorkers; w++ {
		wp, ok := mk.Worker(w)
		if !ok {
			continue
		}
		n.AttachWorkerLink(w, wp.IPC.Mailbox())
		mailboxes = append(mailboxes, wp.IPC.Mailbox())
	}

	dispatcher := &rpcDispatcher{node: n}
	controller := placement.New(n.GlobalAtlas(), dispatcher)

	desiredReplicas := make(map[int64]int)
	for _, p := range manifest.InitialAgents {
		desiredReplicas[p.AgentID]++
	}
	desired := reconciler.NewStaticDesiredState(desiredReplicas)

	recon := reconciler.New(n.GlobalAtlas(), controller, n, desired, broker)
	recon.Start()
	defer recon.Stop()

	placements := make([]kernel.BootstrapPlacement, len(manifest.InitialAgents))
	for i, a := range manifest.InitialAgents {
		placements[i] = kernel.BootstrapPlacement{AgentID: a.AgentID, Role: a.Role, Worker: a.Worker}
	}
	if len(placements) > 0 {
		if err := mk.BootstrapAgents(placements, func(worker int, agentID int64, role string) error {
			return cmdStartAgent(ctx, n, worker, agentID, role)
		}); err != nil {
			logger.Error().Err(err).Msg("initial agent bootstrap failed")
		}
	}

	collector := metrics.NewCollector(mk.Kernel, n.GlobalAtlas(), mailboxes)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("kernel", true, "running")
	metrics.RegisterComponent("atlas", true, "running")
	metrics.RegisterComponent("storage", true, "running")

	httpServer := newHTTPServer(host, port)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics/health server error")
		}
	}()
	logger.Info().Str("addr", httpServer.Addr).Msg("metrics/health server listening")

	waitForShutdown(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	mk.Shutdown(10 * time.Second)
	logger.Info().Msg("master shut down")
	return nil
}

// cmdStartAgent issues node.$worker({worker})._start_agent(id, role)
// directly, the same call $master.start_agent itself makes, used for
// the manifest's initial_agents bootstrap which bypasses the
// replicas/worker-ranking logic of the public command.
func cmdStartAgent(ctx context.Context, n *node.Node, worker int, agentID int64, role string) error {
	args, err := rpc.EncodeArgs(agentID, role)
	if err != nil {
		return err
	}
	w := worker
	req := rpc.Request{
		RPC:    rpc.Call{Command: "_start_agent", Args: args},
		Role:   string(node.RoleWorker),
		Worker: &w,
	}
	_, err = n.RPC(ctx, req)
	return err
}

// masterLinkRef is a forward-reference node.IPCLink: node.NewWorker
// needs a link to send to before the WorkerKernel's IPC channel (which
// needs the Node's own HandleIPC as its callback) can be opened.
// Backfilled with the real mailbox right after AttachIPC runs.
type masterLinkRef struct {
	link node.IPCLink
}

func (r *masterLinkRef) Send(ctx context.Context, payload json.RawMessage) (mailbox.Result, error) {
	return r.link.Send(ctx, payload)
}

func runWorker(cmd *cobra.Command, workerID int) error {
	nodeID, _ := cmd.Flags().GetString("node")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	logger := log.WithNodeID(nodeID).With().Int("worker", workerID).Logger()
	logger.Info().Str("data_dir", dataDir).Msg("starting worker")

	loader := &nodeLoader{}
	wk := kernel.NewWorker(workerID, loader, logger)

	masterRef := &masterLinkRef{}
	n := node.NewWorker(nodeID, workerID, wk, masterRef, logger)
	loader.node = n

	wk.AttachIPC(os.Stdin, os.Stdout, n.HandleIPC)
	masterRef.link = wk.IPC().Mailbox()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := wk.StartAgent(ctx, "node", 0, string(node.RoleWorker)); err != nil {
		return fmt.Errorf("cmd/kernel: starting node pseudo-agent: %w", err)
	}

	waitForShutdown(logger)

	wk.Shutdown(10 * time.Second)
	logger.Info().Msg("worker shut down")
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM arrives.
func waitForShutdown(logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
}

func newHTTPServer(host string, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
}
