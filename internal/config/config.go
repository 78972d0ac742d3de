package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Chain string

func (c Chain) String() string {
	return string(c)
}

const (
	Chain_Polkadot Chain = "polkadot"
	Chain_Kusama   Chain = "kusama"
	Chain_Westend  Chain = "westend"
	Chain_Local    Chain = "local"
)

// ss58 network prefixes for the chains we ship defaults for
var defaultSS58Prefixes = map[Chain]int{
	Chain_Polkadot: 0,
	Chain_Kusama:   2,
	Chain_Westend:  42,
	Chain_Local:    42,
}

const ENV_PREFIX = "RUNTIME_INDEXER"

// Flag / viper keys
const (
	Debug    = "debug"
	ChainKey = "chain"

	NodeRpcUrl         = "node.rpc-url"
	NodeRequestTimeout = "node.request-timeout"

	DatabaseHost        = "database.host"
	DatabasePort        = "database.port"
	DatabaseUser        = "database.user"
	DatabasePassword    = "database.password"
	DatabaseDbName      = "database.db_name"
	DatabaseSchemaName  = "database.schema_name"
	DatabaseSSLMode     = "database.ssl-mode"
	DatabaseSSLCert     = "database.ssl-cert"
	DatabaseSSLKey      = "database.ssl-key"
	DatabaseSSLRootCert = "database.ssl-root-cert"

	RegistrySnapshotPath  = "registry.snapshot-path"
	RegistryPublicKeyPath = "registry.public-key-path"

	PipelineWorkers         = "pipeline.workers"
	PipelineItemConcurrency = "pipeline.item-concurrency"
	PipelineStartBlock      = "pipeline.start-block"
	PipelinePollInterval    = "pipeline.poll-interval"
	PipelineFetchBackoff    = "pipeline.fetch-backoff"

	HashCachePath = "hash-cache.path"

	CodecRenderSS58 = "codec.render-ss58"
	CodecSS58Prefix = "codec.ss58-prefix"

	FailuresSpikeThreshold = "failures.spike-threshold"

	RpcGrpcPort = "rpc.grpc-port"
	RpcHttpPort = "rpc.http-port"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample-rate"
	DataDogEnableTracing    = "datadog.enable-tracing"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"

	BackfillStartBlock = "backfill.start-block"
	BackfillEndBlock   = "backfill.end-block"
)

var DefaultFetchBackoffSeconds = []int{1, 2, 4, 8, 16, 32, 64}

type Config struct {
	Debug            bool
	Chain            Chain
	NodeConfig       NodeConfig
	DatabaseConfig   DatabaseConfig
	RegistryConfig   RegistryConfig
	PipelineConfig   PipelineConfig
	HashCacheConfig  HashCacheConfig
	CodecConfig      CodecConfig
	FailuresConfig   FailuresConfig
	RpcConfig        RpcConfig
	DataDogConfig    DataDogConfig
	PrometheusConfig PrometheusConfig
	BackfillConfig   BackfillConfig
}

type NodeConfig struct {
	RpcUrl         string
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DbName      string
	SchemaName  string
	SSLMode     string
	SSLCert     string
	SSLKey      string
	SSLRootCert string
}

type RegistryConfig struct {
	// SnapshotPath is a metadata export file or a directory of per-spec-version exports
	SnapshotPath string
	// PublicKeyPath, when set, requires every export to carry a valid detached signature
	PublicKeyPath string
}

type PipelineConfig struct {
	Workers         int
	ItemConcurrency int
	StartBlock      uint64
	PollInterval    time.Duration
	FetchBackoff    []time.Duration
}

type HashCacheConfig struct {
	// Path of the leveldb directory; empty keeps the cache in memory only
	Path string
}

type CodecConfig struct {
	// RenderSS58 emits account ids as SS58 addresses instead of 0x-prefixed hex
	RenderSS58 bool
	SS58Prefix int
}

type FailuresConfig struct {
	SpikeThreshold int
}

type RpcConfig struct {
	GrpcPort int
	HttpPort int
}

type DataDogConfig struct {
	StatsdConfig  StatsdConfig
	EnableTracing bool
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type BackfillConfig struct {
	StartBlock uint64
	EndBlock   uint64
}

func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}

func ParseChain(name string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(name)))
	if c == "" {
		return "", errors.New("chain is required")
	}
	if _, ok := defaultSS58Prefixes[c]; !ok {
		return "", fmt.Errorf("unsupported chain '%s'", name)
	}
	return c, nil
}

func secondsToDurations(seconds []int) []time.Duration {
	durations := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		durations = append(durations, time.Duration(s)*time.Second)
	}
	return durations
}

func NewConfig() *Config {
	chain, err := ParseChain(viper.GetString(normalizeFlagName(ChainKey)))
	if err != nil {
		chain = Chain_Local
	}

	backoff := viper.GetIntSlice(normalizeFlagName(PipelineFetchBackoff))
	if len(backoff) == 0 {
		backoff = DefaultFetchBackoffSeconds
	}

	ss58Prefix := defaultSS58Prefixes[chain]
	if viper.IsSet(normalizeFlagName(CodecSS58Prefix)) {
		ss58Prefix = viper.GetInt(normalizeFlagName(CodecSS58Prefix))
	}

	return &Config{
		Debug: viper.GetBool(normalizeFlagName(Debug)),
		Chain: chain,

		NodeConfig: NodeConfig{
			RpcUrl:         viper.GetString(normalizeFlagName(NodeRpcUrl)),
			RequestTimeout: time.Duration(viper.GetInt(normalizeFlagName(NodeRequestTimeout))) * time.Second,
		},

		DatabaseConfig: DatabaseConfig{
			Host:        viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:        viper.GetInt(normalizeFlagName(DatabasePort)),
			User:        viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:    viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:      viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName:  viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:     viper.GetString(normalizeFlagName(DatabaseSSLMode)),
			SSLCert:     viper.GetString(normalizeFlagName(DatabaseSSLCert)),
			SSLKey:      viper.GetString(normalizeFlagName(DatabaseSSLKey)),
			SSLRootCert: viper.GetString(normalizeFlagName(DatabaseSSLRootCert)),
		},

		RegistryConfig: RegistryConfig{
			SnapshotPath:  viper.GetString(normalizeFlagName(RegistrySnapshotPath)),
			PublicKeyPath: viper.GetString(normalizeFlagName(RegistryPublicKeyPath)),
		},

		PipelineConfig: PipelineConfig{
			Workers:         viper.GetInt(normalizeFlagName(PipelineWorkers)),
			ItemConcurrency: viper.GetInt(normalizeFlagName(PipelineItemConcurrency)),
			StartBlock:      viper.GetUint64(normalizeFlagName(PipelineStartBlock)),
			PollInterval:    time.Duration(viper.GetInt(normalizeFlagName(PipelinePollInterval))) * time.Second,
			FetchBackoff:    secondsToDurations(backoff),
		},

		HashCacheConfig: HashCacheConfig{
			Path: viper.GetString(normalizeFlagName(HashCachePath)),
		},

		CodecConfig: CodecConfig{
			RenderSS58: viper.GetBool(normalizeFlagName(CodecRenderSS58)),
			SS58Prefix: ss58Prefix,
		},

		FailuresConfig: FailuresConfig{
			SpikeThreshold: viper.GetInt(normalizeFlagName(FailuresSpikeThreshold)),
		},

		RpcConfig: RpcConfig{
			GrpcPort: viper.GetInt(normalizeFlagName(RpcGrpcPort)),
			HttpPort: viper.GetInt(normalizeFlagName(RpcHttpPort)),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
				Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
			},
			EnableTracing: viper.GetBool(normalizeFlagName(DataDogEnableTracing)),
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},

		BackfillConfig: BackfillConfig{
			StartBlock: viper.GetUint64(normalizeFlagName(BackfillStartBlock)),
			EndBlock:   viper.GetUint64(normalizeFlagName(BackfillEndBlock)),
		},
	}
}

func (c *Config) Validate() error {
	if c.NodeConfig.RpcUrl == "" {
		return fmt.Errorf("%s is required", NodeRpcUrl)
	}
	if c.RegistryConfig.SnapshotPath == "" {
		return fmt.Errorf("%s is required", RegistrySnapshotPath)
	}
	if c.PipelineConfig.Workers < 1 {
		return fmt.Errorf("%s must be at least 1", PipelineWorkers)
	}
	if c.CodecConfig.SS58Prefix < 0 || c.CodecConfig.SS58Prefix > 16383 {
		return fmt.Errorf("%s must be between 0 and 16383", CodecSS58Prefix)
	}
	return nil
}
