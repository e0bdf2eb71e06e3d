package config

import "time"

// PipelineConfig groups the job pipeline knobs shared by the intake,
// publisher, sweeper, and worker services.
type PipelineConfig struct {
	// Topic is the bus stream that job descriptors are published to.
	Topic string `env:"PIPELINE_TOPIC" envDefault:"docsmith.jobs"`

	// Group is the consumer group workers read the topic through.
	Group string `env:"PIPELINE_GROUP" envDefault:"docsmith-workers"`

	// WebhookSecret is the shared secret for webhook signature verification.
	// Deliveries are rejected when it is set and the signature does not match.
	WebhookSecret string `env:"PIPELINE_WEBHOOK_SECRET" envDefault:""`

	// WorkerConcurrency is the number of concurrent message processors.
	WorkerConcurrency int `env:"PIPELINE_WORKER_CONCURRENCY" envDefault:"4"`

	// FileCap is the maximum number of files analyzed per job.
	FileCap int `env:"PIPELINE_FILE_CAP" envDefault:"50"`

	// AnalyzeExtensions limits ingestion file listings to these suffixes.
	AnalyzeExtensions []string `env:"PIPELINE_ANALYZE_EXTENSIONS" envSeparator:","`

	// SweepInterval is how often the sweeper scans for failed relay entries.
	SweepInterval time.Duration `env:"PIPELINE_SWEEP_INTERVAL" envDefault:"5m"`

	// SweepBatchSize caps entries retried per sweep.
	SweepBatchSize int `env:"PIPELINE_SWEEP_BATCH_SIZE" envDefault:"10"`

	// MaxPublishRetries is the retry budget before an entry is parked.
	MaxPublishRetries int `env:"PIPELINE_MAX_PUBLISH_RETRIES" envDefault:"3"`

	// ConsumerBlockTimeout bounds each blocking bus read.
	ConsumerBlockTimeout time.Duration `env:"PIPELINE_CONSUMER_BLOCK_TIMEOUT" envDefault:"5s"`

	// ConsumerClaimMinIdle is how long a pending delivery must idle before
	// another worker may claim it.
	ConsumerClaimMinIdle time.Duration `env:"PIPELINE_CONSUMER_CLAIM_MIN_IDLE" envDefault:"30s"`

	// WorkspaceDir is where the ingestion collaborator materializes
	// repository snapshots.
	WorkspaceDir string `env:"PIPELINE_WORKSPACE_DIR" envDefault:"/var/lib/docsmith/workspaces"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	if p.Topic == "" {
		p.Topic = "docsmith.jobs"
	}
	if p.Group == "" {
		p.Group = "docsmith-workers"
	}
	if p.WorkerConcurrency <= 0 {
		p.WorkerConcurrency = 4
	}
	if p.WorkerConcurrency > 64 {
		p.WorkerConcurrency = 64
	}
	if p.FileCap <= 0 {
		p.FileCap = 50
	}
	if len(p.AnalyzeExtensions) == 0 {
		p.AnalyzeExtensions = []string{
			".go", ".js", ".jsx", ".ts", ".tsx", ".py", ".rb", ".java", ".kt", ".rs",
		}
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = 5 * time.Minute
	}
	if p.SweepBatchSize <= 0 {
		p.SweepBatchSize = 10
	}
	if p.MaxPublishRetries <= 0 {
		p.MaxPublishRetries = 3
	}
	if p.ConsumerBlockTimeout <= 0 {
		p.ConsumerBlockTimeout = 5 * time.Second
	}
	if p.ConsumerClaimMinIdle <= 0 {
		p.ConsumerClaimMinIdle = 30 * time.Second
	}
}
