package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by CORE_NEXUS_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CORE_NEXUS_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// EmbeddingDim is the deployment-wide vector dimension. Writes with any other
// dimension are rejected.
func EmbeddingDim() int {
	return intEnv("EMBEDDING_DIM", 1536)
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: openai, mock.
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// MirrorProviders returns the enabled non-primary providers in failover
// order, parsed from a comma-separated list. Valid names: chroma, pinecone.
func MirrorProviders() []string {
	raw := os.Getenv("MIRROR_PROVIDERS")
	if raw == "" {
		return nil
	}
	var names []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

func ChromaURL() string {
	return os.Getenv("CHROMA_URL")
}

func ChromaCollection() string {
	c := os.Getenv("CHROMA_COLLECTION")
	if c == "" {
		return "memories"
	}
	return c
}

func PineconeAPIKey() string {
	return os.Getenv("PINECONE_API_KEY")
}

func PineconeHost() string {
	return os.Getenv("PINECONE_HOST")
}

func MirrorOnWrite() bool {
	return boolEnv("MIRROR_ON_WRITE", true)
}

// ReadStrategy is one of primary_only, primary_then_fallback, fan_out_merge.
func ReadStrategy() string {
	s := os.Getenv("READ_STRATEGY")
	switch s {
	case "primary_only", "primary_then_fallback", "fan_out_merge":
		return s
	}
	return "primary_then_fallback"
}

// QueryMultiplier is the oversampling factor applied before post-filtering.
func QueryMultiplier() int {
	m := intEnv("QUERY_MULTIPLIER", 2)
	if m < 1 {
		return 1
	}
	return m
}

// GraphEnabled gates all graph side effects. Default off.
func GraphEnabled() bool {
	return boolEnv("GRAPH_ENABLED", false)
}

// ADMWeights returns the quality/relevance/intelligence weights. Values are
// normalized to sum to 1 by the scorer.
func ADMWeights() (wq, wr, wi float64) {
	wq = floatEnv("ADM_WEIGHT_QUALITY", 0.3)
	wr = floatEnv("ADM_WEIGHT_RELEVANCE", 0.4)
	wi = floatEnv("ADM_WEIGHT_INTELLIGENCE", 0.3)
	return wq, wr, wi
}

// MinQuality is the ADM score below which a memory is flagged low-quality
// (still stored).
func MinQuality() float64 {
	return floatEnv("ADM_MIN_QUALITY", 0.2)
}

// MinStrength is the floor below which inferred relationships are discarded.
func MinStrength() float64 {
	return floatEnv("GRAPH_MIN_STRENGTH", 0.3)
}

// RelationWindow is the sliding co-occurrence window in characters.
func RelationWindow() int {
	return intEnv("GRAPH_RELATION_WINDOW", 240)
}

func PoolMaxConns() int {
	return intEnv("POOL_MAX_CONNS", 10)
}

// GraphPoolMaxConns sizes the graph provider's own pool so graph saturation
// cannot starve primary writes.
func GraphPoolMaxConns() int {
	return intEnv("GRAPH_POOL_MAX_CONNS", 4)
}

// PendingWriteHighWater is the admission-control bound on in-flight writes.
func PendingWriteHighWater() int {
	return intEnv("PENDING_WRITE_HIGH_WATER", 64)
}

func WriteTimeout() time.Duration {
	return durationEnv("WRITE_TIMEOUT", 30*time.Second)
}

func ReadTimeout() time.Duration {
	return durationEnv("READ_TIMEOUT", 10*time.Second)
}

// BackgroundTimeout is the detached deadline for mirror writes and graph
// ingest tasks.
func BackgroundTimeout() time.Duration {
	return durationEnv("BACKGROUND_TIMEOUT", 60*time.Second)
}

func HealthProbeInterval() time.Duration {
	return durationEnv("HEALTH_PROBE_INTERVAL", 30*time.Second)
}

// MaxContentBytes caps memory content size; larger bodies get 413.
func MaxContentBytes() int {
	return intEnv("MAX_CONTENT_BYTES", 32*1024)
}

// IndexLists is the starting IVFFlat lists parameter for the vector index.
func IndexLists() int {
	return intEnv("VECTOR_INDEX_LISTS", 100)
}

// MaintenanceWorkMem is the session hint applied before index builds.
func MaintenanceWorkMem() string {
	m := os.Getenv("MAINTENANCE_WORK_MEM")
	if m == "" {
		return "512MB"
	}
	return m
}

// RateLimitRPS returns requests per second limit.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func boolEnv(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
