package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/seriesdb/utils/log"
)

const (
	CatalogBackendSQLite = "sqlite"
	CatalogBackendMemory = "memory"

	OnStartupAuto  = "auto"
	OnStartupFresh = "fresh"
	OnStartupOff   = "off"
)

type DatabaseSetting struct {
	Name           string `validate:"required,max=64"`
	CatalogBackend string `validate:"oneof=sqlite memory"`
}

type InitSyncSetting struct {
	OnStartup         string        `validate:"oneof=auto fresh off"`
	TickInterval      time.Duration `validate:"gt=0"`
	ExchangeTimeout   time.Duration `validate:"gt=0"`
	BatchSeries       int           `validate:"gt=0"`
	BatchBytes        int           `validate:"gt=0"`
	CompressThreshold int           `validate:"gte=0"`
	ServeRate         float64       `validate:"gt=0"`
	ServeBurst        int           `validate:"gt=0"`
}

type ReplicationSetting struct {
	// PeerHost is the pool member this node copies its series catalog from.
	// Empty means this node only serves initial syncs to others.
	PeerHost          string
	TLSEnabled        bool
	CertFile          string `validate:"required_if=TLSEnabled true"`
	KeyFile           string `validate:"required_if=TLSEnabled true"`
	RetryInterval     time.Duration
	RetryBackoffCoeff int `validate:"gte=1"`
	InitSync          InitSyncSetting
}

type Config struct {
	RootDirectory            string `validate:"required"`
	ListenURL                string `validate:"required"`
	GRPCListenURL            string `validate:"required"`
	LogLevel                 log.Level
	StopGracePeriod          time.Duration
	DiskUsageMonitorInterval time.Duration
	Databases                []DatabaseSetting `validate:"required,min=1,dive"`
	Replication              ReplicationSetting
	StartTime                time.Time
}

// Database returns the setting of the named database.
func (c *Config) Database(name string) (DatabaseSetting, bool) {
	for _, db := range c.Databases {
		if db.Name == name {
			return db, true
		}
	}
	return DatabaseSetting{}, false
}

func ParseConfig(data []byte) (*Config, error) {
	var (
		err error
		aux struct {
			RootDirectory            string `yaml:"root_directory"`
			ListenURL                string `yaml:"listen_url"`
			GRPCListenURL            string `yaml:"grpc_listen_url"`
			LogLevel                 string `yaml:"log_level"`
			StopGracePeriod          int    `yaml:"stop_grace_period"`
			DiskUsageMonitorInterval string `yaml:"disk_usage_monitor_interval"`
			Databases                []struct {
				Name           string `yaml:"name"`
				CatalogBackend string `yaml:"catalog_backend"`
			} `yaml:"databases"`
			Replication struct {
				PeerHost          string `yaml:"peer_host"`
				TLSEnabled        bool   `yaml:"tls_enabled"`
				CertFile          string `yaml:"cert_file"`
				KeyFile           string `yaml:"key_file"`
				RetryInterval     string `yaml:"retry_interval"`
				RetryBackoffCoeff int    `yaml:"retry_backoff_coeff"`
				InitSync          struct {
					OnStartup         string  `yaml:"on_startup"`
					TickInterval      string  `yaml:"tick_interval"`
					ExchangeTimeout   string  `yaml:"exchange_timeout"`
					BatchSeries       int     `yaml:"batch_series"`
					BatchBytes        string  `yaml:"batch_bytes"`
					CompressThreshold string  `yaml:"compress_threshold"`
					ServeRate         float64 `yaml:"serve_rate"`
					ServeBurst        int     `yaml:"serve_burst"`
				} `yaml:"initsync"`
			} `yaml:"replication"`
		}
	)

	if err = yaml.Unmarshal(data, &aux); err != nil {
		return nil, fmt.Errorf("unmarshal yaml config: %w", err)
	}

	m := &Config{
		RootDirectory: aux.RootDirectory,
		ListenURL:     aux.ListenURL,
		GRPCListenURL: aux.GRPCListenURL,
		StartTime:     time.Now(),
	}

	m.LogLevel = log.ParseLevel(aux.LogLevel)

	if aux.StopGracePeriod > 0 {
		m.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	if m.DiskUsageMonitorInterval, err = durationOrDefault(aux.DiskUsageMonitorInterval,
		10*time.Minute); err != nil {
		return nil, fmt.Errorf("disk_usage_monitor_interval: %w", err)
	}

	for _, db := range aux.Databases {
		backend := db.CatalogBackend
		if backend == "" {
			backend = CatalogBackendSQLite
		}
		m.Databases = append(m.Databases, DatabaseSetting{Name: db.Name, CatalogBackend: backend})
	}

	r := aux.Replication
	m.Replication = ReplicationSetting{
		PeerHost:          r.PeerHost,
		TLSEnabled:        r.TLSEnabled,
		CertFile:          r.CertFile,
		KeyFile:           r.KeyFile,
		RetryBackoffCoeff: r.RetryBackoffCoeff,
	}
	if m.Replication.RetryBackoffCoeff == 0 {
		m.Replication.RetryBackoffCoeff = 2
	}
	if m.Replication.RetryInterval, err = durationOrDefault(r.RetryInterval, 10*time.Second); err != nil {
		return nil, fmt.Errorf("replication.retry_interval: %w", err)
	}

	is := r.InitSync
	sync := InitSyncSetting{
		OnStartup:   is.OnStartup,
		BatchSeries: is.BatchSeries,
		ServeRate:   is.ServeRate,
		ServeBurst:  is.ServeBurst,
	}
	if sync.OnStartup == "" {
		sync.OnStartup = OnStartupAuto
	}
	if sync.BatchSeries == 0 {
		sync.BatchSeries = 1000
	}
	if sync.ServeRate == 0 {
		sync.ServeRate = 20
	}
	if sync.ServeBurst == 0 {
		sync.ServeBurst = 5
	}
	if sync.TickInterval, err = durationOrDefault(is.TickInterval, 2*time.Second); err != nil {
		return nil, fmt.Errorf("replication.initsync.tick_interval: %w", err)
	}
	if sync.ExchangeTimeout, err = durationOrDefault(is.ExchangeTimeout, 10*time.Second); err != nil {
		return nil, fmt.Errorf("replication.initsync.exchange_timeout: %w", err)
	}
	if sync.BatchBytes, err = bytesOrDefault(is.BatchBytes, bytefmt.MEGABYTE); err != nil {
		return nil, fmt.Errorf("replication.initsync.batch_bytes: %w", err)
	}
	if sync.CompressThreshold, err = bytesOrDefault(is.CompressThreshold, 64*bytefmt.KILOBYTE); err != nil {
		return nil, fmt.Errorf("replication.initsync.compress_threshold: %w", err)
	}
	m.Replication.InitSync = sync

	if err = validator.New().Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid configuration: %s failed on '%s'",
				verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	seen := map[string]struct{}{}
	for _, db := range m.Databases {
		if strings.ContainsAny(db.Name, `/\`) || db.Name == "." || db.Name == ".." {
			return nil, fmt.Errorf("invalid configuration: database name %q is not a valid directory name", db.Name)
		}
		if _, ok := seen[db.Name]; ok {
			return nil, fmt.Errorf("invalid configuration: database %q is defined twice", db.Name)
		}
		seen[db.Name] = struct{}{}
	}

	return m, nil
}

func durationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func bytesOrDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
