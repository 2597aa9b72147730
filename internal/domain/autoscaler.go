// Package domain holds the entity types shared by the pool, autoscaler,
// metrics client, and persistence layer.
package domain

import "time"

// ContainerStatus is the derived health of a worker container.
type ContainerStatus string

const (
	StatusHealthy    ContainerStatus = "healthy"
	StatusOverloaded ContainerStatus = "overloaded"
	StatusIdle       ContainerStatus = "idle"
)

func (s ContainerStatus) IsValid() bool {
	switch s {
	case StatusHealthy, StatusOverloaded, StatusIdle:
		return true
	}
	return false
}

// ContainerInfo is one worker container tracked by a ContainerPool.
//
// CPUUsage/MemoryUsage are transient samples, last written by the pool's
// UpdateMetrics. They are not persisted: ContainerSnapshot has no usage
// fields, so a pool restored from a snapshot reads zero usage until its
// next tick samples it.
type ContainerInfo struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ContainerPort uint32          `json:"container_port"`
	Status        ContainerStatus `json:"status"`
	CPUUsage      float64         `json:"cpu_usage"`
	MemoryUsage   float64         `json:"memory_usage"`
	LastActive    time.Time       `json:"-"`
	IdleSince     *time.Time      `json:"-"`
}

// MonitoringConfig is immutable per-pool tuning. All threshold fields are
// percent values in [0, 100] using the same convention as the metrics
// backend's output (80.0 means 80%), never fractions.
type MonitoringConfig struct {
	CPUOverloadThreshold    float64       `json:"cpu_overload_threshold" yaml:"cpu_overload_threshold"`
	MemoryOverloadThreshold float64       `json:"memory_overload_threshold" yaml:"memory_overload_threshold"`
	CooldownCPUThreshold    float64       `json:"cooldown_cpu_threshold" yaml:"cooldown_cpu_threshold"`
	CooldownDuration        time.Duration `json:"cooldown_duration" yaml:"cooldown_duration"`
	PollInterval            time.Duration `json:"poll_interval" yaml:"poll_interval"`
	MetricsBackendURL       string        `json:"metrics_backend_url" yaml:"metrics_backend_url"`
}

// PersistenceConfig controls snapshot persistence to the state store.
type PersistenceConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	StoreURL    string        `json:"store_url" yaml:"store_url"`
	KeyPrefix   string        `json:"key_prefix" yaml:"key_prefix"`
	BatchSize   int           `json:"batch_size" yaml:"batch_size"`
	SnapshotTTL time.Duration `json:"snapshot_ttl" yaml:"snapshot_ttl"`
}

// AutoscalerConfig is immutable global configuration, embedding the
// MonitoringConfig applied to every newly created pool; there is no
// per-pool override.
type AutoscalerConfig struct {
	MonitoringConfig          `json:",inline" yaml:",inline"`
	MinContainersPerFunction int               `json:"min_containers_per_function" yaml:"min_containers_per_function"`
	MaxContainersPerFunction int               `json:"max_containers_per_function" yaml:"max_containers_per_function"`
	ScaleCheckInterval       time.Duration     `json:"scale_check_interval" yaml:"scale_check_interval"`
	NetworkName              string            `json:"network_name" yaml:"network_name"`
	Persistence              PersistenceConfig `json:"persistence" yaml:"persistence"`
}

// ContainerSnapshot is the wire shape of one container inside a PoolSnapshot.
type ContainerSnapshot struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ContainerPort uint32          `json:"container_port"`
	Status        ContainerStatus `json:"status"`
	LastActiveUnix int64          `json:"last_active_unix"`
	IdleSinceUnix  *int64         `json:"idle_since_unix,omitempty"`
}

// PoolSnapshot is the wire-stable JSON persisted for one function's pool.
type PoolSnapshot struct {
	FunctionName   string             `json:"function_name"`
	Containers     []ContainerSnapshot `json:"containers"`
	MinContainers  int                `json:"min_containers"`
	MaxContainers  int                `json:"max_containers"`
	Config         MonitoringConfig   `json:"config"`
	LastUpdated    int64              `json:"last_updated"`
}

// SystemMetadata is the persisted `<prefix>:metadata` record.
type SystemMetadata struct {
	Version     string `json:"version"`
	LastCleanup int64  `json:"last_cleanup"`
	TotalPools  int    `json:"total_pools"`
}

// FunctionSpec describes how to start a fresh container for a function;
// it is the "image" half of the Container Runtime Adapter's start() spec.
type FunctionSpec struct {
	FunctionKey string
	Image       string
	Port        uint32
	EnvVars     map[string]string
}
