// Command ingesterd wires an ingester core to a WAL and a peer pool and
// runs it until signaled to stop. It does not stand up an RPC listener:
// on-wire framing is an explicit external collaborator (spec §1), so
// this binary is the local/dev demonstration of the wiring a real server
// process would sit on top of.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/quickwit-oss/ingester-node/ingester"
	"github.com/quickwit-oss/ingester-node/internal/cli"
	"github.com/quickwit-oss/ingester-node/peer"
	"github.com/quickwit-oss/ingester-node/wal"
)

// IngesterConfig groups the ingester core's tunables, flattened the way
// wordcountctl groups mbp.AddressConfig: one struct, one `group` tag.
type IngesterConfig struct {
	SelfNodeID                   string        `long:"self-node-id" env:"SELF_NODE_ID" required:"true" description:"This node's id, as addressed by peers"`
	WALDirPath                   string        `long:"wal-dir-path" env:"WAL_DIR_PATH" description:"Directory the WAL engine persists under (unused by the in-memory reference engine)"`
	ReplicationFactor            int           `long:"replication-factor" env:"REPLICATION_FACTOR" default:"1" description:"Replication factor: 1 (solo shards only) or 2 (primary+follower shards allowed)"`
	SynReplicationStreamCapacity int           `long:"syn-replication-stream-capacity" env:"SYN_REPLICATION_STREAM_CAPACITY" default:"5" description:"Bounded channel capacity for outstanding syn messages per replication stream"`
	PersistRequestTimeout        time.Duration `long:"persist-request-timeout" env:"PERSIST_REQUEST_TIMEOUT" default:"10s" description:"Deadline applied to each persist call"`
	DefaultFetchBatchNumBytes    int           `long:"default-fetch-batch-num-bytes" env:"DEFAULT_FETCH_BATCH_NUM_BYTES" default:"1048576" description:"Byte budget per fetch response batch"`
}

var Config = new(struct {
	Ingester IngesterConfig   `group:"Ingester" namespace:"ingester" env-namespace:"INGESTER"`
	Log      cli.LogConfig    `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdServe struct{}

func (cmdServe) Execute([]string) error {
	if err := Config.Log.Configure(); err != nil {
		return err
	}

	if Config.Ingester.ReplicationFactor == 2 && Config.Ingester.WALDirPath == "" {
		log.Warn("replication-factor=2 configured without a durable wal-dir-path; using the in-memory reference engine")
	}

	w := wal.NewInMemory()
	pool := peer.NewStaticPool()

	core := ingester.New(ingester.Config{
		SelfNodeID:                   Config.Ingester.SelfNodeID,
		ReplicationFactor:            Config.Ingester.ReplicationFactor,
		SynReplicationStreamCapacity: Config.Ingester.SynReplicationStreamCapacity,
		PersistRequestTimeout:        Config.Ingester.PersistRequestTimeout,
		DefaultFetchBatchNumBytes:    Config.Ingester.DefaultFetchBatchNumBytes,
	}, w, pool)

	// Registering this node's own LocalClient lets a peer pool populated
	// out-of-band (e.g. by a cluster membership watcher, out of scope per
	// §1) route replication traffic addressed back at this node without a
	// network hop.
	pool.Register(Config.Ingester.SelfNodeID, ingester.LocalClient{Core: core})

	ctx := context.Background()
	if err := core.Init(ctx); err != nil {
		return err
	}
	log.WithField("self_node_id", Config.Ingester.SelfNodeID).Info("ingester core ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.WithFields(log.Fields{
		"ingested_num_docs":  core.IngestedNumDocs(),
		"ingested_num_bytes": core.IngestedNumBytes(),
	}).Info("ingester core shutting down")
	return nil
}

func main() {
	parser := flags.NewParser(Config, flags.Default)

	_, err := parser.AddCommand("serve", "Run the ingester core",
		"Recover WAL state and run the ingester core until signaled", &cmdServe{})
	cli.Must(err, "failed to add serve command")

	cli.MustParseArgs(parser)
}
