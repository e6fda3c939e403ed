package di

import (
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alpacahq/seriesdb/frontend"
	"github.com/alpacahq/seriesdb/replication"
)

func (c *Container) GetAdminService() *frontend.AdminService {
	if c.adminService != nil {
		return c.adminService
	}
	c.adminService = frontend.NewAdminService(c.GetInitSyncManager(), c.GetCatalogs())
	return c.adminService
}

func (c *Container) GetHealthServer() *health.Server {
	if c.healthServer != nil {
		return c.healthServer
	}
	c.healthServer = health.NewServer()
	return c.healthServer
}

// GetGRPCServer returns the grpc server carrying the admin, initial sync and health services.
func (c *Container) GetGRPCServer() *grpc.Server {
	if c.grpcServer != nil {
		return c.grpcServer
	}
	srv := grpc.NewServer(c.GetGRPCServerOptions()...)
	frontend.RegisterAdminServer(srv, c.GetAdminService())
	replication.RegisterInitSyncServer(srv, c.GetInitSyncServer())
	healthpb.RegisterHealthServer(srv, c.GetHealthServer())
	c.grpcServer = srv
	return c.grpcServer
}

func (c *Container) GetUtilityAPIHandlers() *frontend.UtilityAPIHandlers {
	if c.utilities != nil {
		return c.utilities
	}
	c.utilities = frontend.NewUtilityAPIHandlers(c.cfg.StartTime, c.GetInitSyncManager())
	return c.utilities
}

// GetHTTPServer returns the server of the heartbeat, metrics and profiling endpoints.
func (c *Container) GetHTTPServer() *http.Server {
	if c.httpServer != nil {
		return c.httpServer
	}
	c.httpServer = c.GetUtilityAPIHandlers().NewServer(c.cfg.ListenURL)
	return c.httpServer
}
