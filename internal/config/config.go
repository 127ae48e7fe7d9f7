// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	JobSourceEtcd = "etcd"
	JobSourceHTTP = "http"
)

// Config holds the settings of every binary. Each binary validates only the
// fields it uses.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	ServerPort         int           `mapstructure:"server_port" validate:"min=1,max=65535"`
	WorkerNodeEndpoint string        `mapstructure:"worker_node_endpoint" validate:"required,url"`
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	DispatchTimeout    time.Duration `mapstructure:"dispatch_timeout" validate:"gte=0"`
	DefaultMode        string        `mapstructure:"default_mode" validate:"oneof=core compressed plonk groth16"`
	MetricsAddr        string        `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	JobSourceKind  string `mapstructure:"job_source_kind" validate:"oneof=etcd http"`
	JobSourceURL   string `mapstructure:"job_source_url" validate:"required,url"`
	JobSourceToken string `mapstructure:"job_source_token"`

	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints" validate:"required,min=1,dive,required"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1s"`

	S3Endpoint           string `mapstructure:"s3_endpoint" validate:"required"`
	S3AccessKey          string `mapstructure:"s3_access_key" validate:"required"`
	S3SecretKey          string `mapstructure:"s3_secret_key" validate:"required"`
	S3Region             string `mapstructure:"s3_region" validate:"required"`
	S3UseSSL             bool   `mapstructure:"s3_use_ssl"`
	S3Bucket             string `mapstructure:"s3_bucket" validate:"required"`
	S3Concurrency        int    `mapstructure:"s3_concurrency" validate:"min=1"`
	TransferLaneStrategy string `mapstructure:"transfer_lane_strategy" validate:"oneof=contiguous round_robin"`

	ComputeSlots    int      `mapstructure:"compute_slots" validate:"min=1"`
	ProverCommand   string   `mapstructure:"prover_command" validate:"required"`
	ProverArgs      []string `mapstructure:"prover_args"`
	ProverSetupArgs []string `mapstructure:"prover_setup_args"`

	JanitorSchedule string        `mapstructure:"janitor_schedule"`
	JanitorMaxAge   time.Duration `mapstructure:"janitor_max_age" validate:"gt=0"`
	GRPCHealthAddr  string        `mapstructure:"grpc_health_addr" validate:"omitempty,hostname_port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", 8080)
	v.SetDefault("worker_node_endpoint", "")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("dispatch_timeout", "0s")
	v.SetDefault("default_mode", "core")
	v.SetDefault("metrics_addr", ":9091")
	v.SetDefault("job_source_kind", JobSourceEtcd)
	v.SetDefault("job_source_url", "")
	v.SetDefault("job_source_token", "")
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("leader_election_ttl", "10s")
	v.SetDefault("s3_endpoint", "localhost:9000")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_use_ssl", false)
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_concurrency", 32)
	v.SetDefault("transfer_lane_strategy", "contiguous")
	v.SetDefault("compute_slots", 1)
	v.SetDefault("prover_command", "")
	v.SetDefault("prover_args", []string{})
	v.SetDefault("prover_setup_args", []string{})
	v.SetDefault("janitor_schedule", "@every 10m")
	v.SetDefault("janitor_max_age", "1h")
	v.SetDefault("grpc_health_addr", "")
}

// AddFlags registers --config on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (default: ./configs/config.yaml or ./config.yaml)")
}

// Load reads configuration from defaults, a config file and the environment,
// in increasing order of precedence. fs may be nil; when it carries a
// --config value that file must exist.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var configFile string
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Read environment variables, e.g. S3_BUCKET or WORKER_NODE_ENDPOINT.
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and env vars are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) jobSourceFields() []string {
	fields := []string{"JobSourceKind"}
	switch c.JobSourceKind {
	case JobSourceHTTP:
		fields = append(fields, "JobSourceURL")
	case JobSourceEtcd:
		fields = append(fields, "EtcdEndpoints", "EtcdTimeout")
	}
	return fields
}

func (c *Config) objectStoreFields() []string {
	return []string{"S3Endpoint", "S3AccessKey", "S3SecretKey", "S3Region", "S3Bucket", "S3Concurrency", "TransferLaneStrategy"}
}

// ValidateWorker checks the settings the worker needs.
func (c *Config) ValidateWorker() error {
	fields := append([]string{"ServerPort", "ComputeSlots", "ProverCommand", "JanitorMaxAge", "GRPCHealthAddr"}, c.objectStoreFields()...)
	fields = append(fields, c.jobSourceFields()...)
	if err := validate.StructPartial(c, fields...); err != nil {
		return fmt.Errorf("invalid worker configuration: %w", err)
	}
	return nil
}

// ValidateCoordinator checks the settings the coordinator needs.
func (c *Config) ValidateCoordinator() error {
	fields := append([]string{"WorkerNodeEndpoint", "PollInterval", "DispatchTimeout", "DefaultMode", "MetricsAddr"}, c.jobSourceFields()...)
	if c.JobSourceKind == JobSourceEtcd {
		fields = append(fields, "LeaderElectionTTL")
	}
	if err := validate.StructPartial(c, fields...); err != nil {
		return fmt.Errorf("invalid coordinator configuration: %w", err)
	}
	return nil
}

// ValidateJobctl checks the settings jobctl needs: the object store and etcd.
func (c *Config) ValidateJobctl() error {
	fields := append(c.objectStoreFields(), "EtcdEndpoints", "EtcdTimeout")
	if err := validate.StructPartial(c, fields...); err != nil {
		return fmt.Errorf("invalid jobctl configuration: %w", err)
	}
	return nil
}
