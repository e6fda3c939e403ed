package di

import (
	"crypto/tls"
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/alpacahq/seriesdb/replication"
	"github.com/alpacahq/seriesdb/utils/log"
)

func (c *Container) GetGRPCServerOptions() []grpc.ServerOption {
	if c.gRPCServerOptions != nil {
		return c.gRPCServerOptions
	}

	opts := replication.ServerOptions(log.Logger())
	// Enable TLS for all incoming connections if configured
	if c.cfg.Replication.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(c.cfg.Replication.CertFile, c.cfg.Replication.KeyFile)
		if err != nil {
			panic(fmt.Sprintf("failed to load server certificates for replication:"+
				" certFile:%v, keyFile:%v, err:%v",
				c.cfg.Replication.CertFile, c.cfg.Replication.KeyFile, err.Error(),
			))
		}
		opts = append(opts, grpc.Creds(credentials.NewServerTLSFromCert(&cert)))
		log.Debug("transport security is enabled on gRPC server")
	}
	c.gRPCServerOptions = opts
	return opts
}

// GetInitSyncServer returns the service answering initial sync requests of other pool members.
func (c *Container) GetInitSyncServer() *replication.GRPCInitSyncServer {
	if c.initSyncServer != nil {
		return c.initSyncServer
	}
	sources := make(map[string]replication.SeriesSource, len(c.GetCatalogs()))
	for name, store := range c.GetCatalogs() {
		sources[name] = store
	}
	s := c.cfg.Replication.InitSync
	c.initSyncServer = replication.NewGRPCInitSyncServer(sources, replication.ServeSettings{
		MaxSeries:         s.BatchSeries,
		CompressThreshold: s.CompressThreshold,
		Rate:              s.ServeRate,
		Burst:             s.ServeBurst,
	})
	return c.initSyncServer
}

// GetPeerClient returns the client of the configured peer, or nil when no peer is configured.
func (c *Container) GetPeerClient() *replication.GRPCInitSyncClient {
	if c.cfg.Replication.PeerHost == "" {
		return nil
	}
	if c.peerClient != nil {
		return c.peerClient
	}

	var opts []grpc.DialOption
	if c.cfg.Replication.TLSEnabled {
		creds, err := credentials.NewClientTLSFromFile(c.cfg.Replication.CertFile, "")
		if err != nil {
			panic(errors.Wrap(err, "failed to load certFile for replication"))
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
		log.Debug("transport security is enabled on gRPC client for replication")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(c.cfg.Replication.PeerHost, opts...)
	if err != nil {
		panic(errors.Wrap(err, "failed to initialize gRPC client connection for replication"))
	}
	c.peerConn = conn
	c.peerClient = replication.NewGRPCInitSyncClient(replication.NewInitSyncClient(conn))
	return c.peerClient
}

// GetPeerProbe returns a Retryer that returns once the peer answers for database db.
func (c *Container) GetPeerProbe(db string) *replication.Retryer {
	cli := c.GetPeerClient()
	if cli == nil {
		return nil
	}
	return replication.NewRetryer(cli.Probe(db), c.cfg.Replication.RetryInterval,
		c.cfg.Replication.RetryBackoffCoeff,
	)
}
