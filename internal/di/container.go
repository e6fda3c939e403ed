package di

import (
	"net/http"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/frontend"
	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/replication"
	"github.com/alpacahq/seriesdb/utils"
	"github.com/alpacahq/seriesdb/utils/log"
)

// Container builds and holds the long-lived components of a seriesdb node.
// Getters construct their component on first use.
type Container struct {
	cfg               *utils.Config
	absRootDir        string
	catalogs          map[string]catalog.Store
	gRPCServerOptions []grpc.ServerOption
	scheduler         *initsync.Scheduler
	manager           *initsync.Manager
	peerConn          *grpc.ClientConn
	peerClient        *replication.GRPCInitSyncClient
	initSyncServer    *replication.GRPCInitSyncServer
	adminService      *frontend.AdminService
	grpcServer        *grpc.Server
	healthServer      *health.Server
	utilities         *frontend.UtilityAPIHandlers
	httpServer        *http.Server
}

func NewContainer(cfg *utils.Config) *Container {
	return &Container{cfg: cfg}
}

func (c *Container) Config() *utils.Config {
	return c.cfg
}

func (c *Container) GetAbsRootDir() string {
	if c.absRootDir != "" {
		return c.absRootDir
	}

	rootDir, err := filepath.Abs(filepath.Clean(c.cfg.RootDirectory))
	if err != nil {
		log.Error("Cannot take absolute path of root directory %s", err.Error())
		panic(err)
	}
	log.Info("Root Directory: %s", rootDir)
	const ownerGroupAll = 0o770
	if err = os.MkdirAll(rootDir, ownerGroupAll); err != nil {
		log.Error("Could not create root directory: %s", err.Error())
		panic(err)
	}
	c.absRootDir = rootDir
	return c.absRootDir
}

// DatabaseDir returns the directory holding the catalog and progress file of db.
func (c *Container) DatabaseDir(db string) string {
	return filepath.Join(c.GetAbsRootDir(), db)
}

// Services are the components the start command runs on its own goroutines.
type Services struct {
	GRPCServer *grpc.Server
	HTTPServer *http.Server
	Health     *health.Server
	Scheduler  *initsync.Scheduler
	Manager    *initsync.Manager
	// WaitForPeer returns once the peer answers; nil without a peer or databases.
	WaitForPeer *replication.Retryer
}

// Services resolves every component the start command needs. Getters are not
// safe for concurrent use, so call it before starting any goroutine.
func (c *Container) Services() Services {
	s := Services{
		GRPCServer: c.GetGRPCServer(),
		HTTPServer: c.GetHTTPServer(),
		Health:     c.GetHealthServer(),
		Scheduler:  c.GetScheduler(),
		Manager:    c.GetInitSyncManager(),
	}
	if len(c.cfg.Databases) > 0 {
		s.WaitForPeer = c.GetPeerProbe(c.cfg.Databases[0].Name)
	}
	return s
}

// Close releases the peer connection and every open catalog.
func (c *Container) Close() {
	if c.manager != nil {
		c.manager.Close()
	}
	if c.peerConn != nil {
		if err := c.peerConn.Close(); err != nil {
			log.Error("failed to close the peer connection: %v", err)
		}
	}
	for name, cat := range c.catalogs {
		if err := cat.Close(); err != nil {
			log.Error("failed to close the catalog of %s: %v", name, err)
		}
	}
}
