package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/retroeval/internal/evaluator"
	"github.com/rewired-gh/retroeval/internal/metrics"
	"github.com/rewired-gh/retroeval/internal/models"
	"github.com/rewired-gh/retroeval/internal/series"
	"github.com/rewired-gh/retroeval/internal/source"
)

// Annotation column names emitted when report.annotations is enabled.
const (
	AnnotationEndpoint        = "Endpoint"
	AnnotationDate            = "Date"
	AnnotationPublic          = "Public"
	AnnotationSelfAssessment  = "Self-assessment by modelers"
	AnnotationValidAssessment = "Valid assessment"
)

// Config represents the complete application configuration
type Config struct {
	Scenarios  []ScenarioConfig `mapstructure:"scenarios"`
	Endpoints  []EndpointConfig `mapstructure:"endpoints"`
	Metrics    []MetricConfig   `mapstructure:"metrics"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Loader     LoaderConfig     `mapstructure:"loader"`
	Source     SourceConfig     `mapstructure:"source"`
	Report     ReportConfig     `mapstructure:"report"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ScenarioConfig is one catalog entry. Key has the form "YYYY/MM/DD" with an
// optional endpoint tag after a space.
type ScenarioConfig struct {
	Key           string  `mapstructure:"key"`
	Source        string  `mapstructure:"source"`
	Normalization float64 `mapstructure:"normalization"` // 0 = use the endpoint's
	Endpoint      string  `mapstructure:"endpoint"`      // overrides the key tag
	Increasing    bool    `mapstructure:"increasing"`
	Cutoff        string  `mapstructure:"cutoff"` // defaults to the key date
	Public        string  `mapstructure:"public"`
	// SelfAssessment is the modelers' own verdict on the scenario.
	SelfAssessment string `mapstructure:"self_assessment"`
	// ValidAssessment marks whether comparing the scenario to reality is legitimate.
	ValidAssessment string             `mapstructure:"valid_assessment"`
	Annotations     []AnnotationConfig `mapstructure:"annotations"`
}

// AnnotationConfig is a free-form scenario attribute emitted as a tag column.
type AnnotationConfig struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// EndpointConfig maps an endpoint tag to its normalization constant.
type EndpointConfig struct {
	Name          string  `mapstructure:"name"`
	Normalization float64 `mapstructure:"normalization"`
}

// MetricConfig is a builtin metric when Expression is empty, otherwise a
// per-point gval expression over observed and predicted reduced by Aggregate.
type MetricConfig struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
	Aggregate  string `mapstructure:"aggregate"`
}

// EvaluationConfig holds evaluator behavior configuration
type EvaluationConfig struct {
	Mode             string   `mapstructure:"mode"`
	Band             string   `mapstructure:"band"`
	Stratify         bool     `mapstructure:"stratify"` // registry mode: stack min, med and max
	NDays            int      `mapstructure:"n_days"`
	BinLength        int      `mapstructure:"bin_length"`
	IncludeMAPE      bool     `mapstructure:"include_mape"`
	IncludeRawErrors bool     `mapstructure:"include_raw_errors"`
	BedMetrics       []string `mapstructure:"bed_metrics"`
	// BedColumns renames bed metric columns, e.g. "Max error (beds)".
	BedColumns    []BedColumnConfig `mapstructure:"bed_columns"`
	FailurePolicy string            `mapstructure:"failure_policy"`
	Parallelism   int               `mapstructure:"parallelism"`
	Precision     int               `mapstructure:"precision"`
}

// BedColumnConfig names the column of one bed metric.
type BedColumnConfig struct {
	Metric string `mapstructure:"metric"`
	Name   string `mapstructure:"name"`
}

// LoaderConfig holds series decoding and preparation configuration
type LoaderConfig struct {
	Window         int    `mapstructure:"window"`
	BuildBaselines bool   `mapstructure:"build_baselines"`
	DropIncomplete bool   `mapstructure:"drop_incomplete"`
	ParsePolicy    string `mapstructure:"parse_policy"`
	Delimiter      string `mapstructure:"delimiter"`
	DateColumn     string `mapstructure:"date_column"`
}

// SourceConfig holds source transport configuration
type SourceConfig struct {
	DataDir        string        `mapstructure:"data_dir"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	S3Region       string        `mapstructure:"s3_region"`
}

// ReportConfig holds output configuration
type ReportConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	CSV         bool   `mapstructure:"csv"`
	LaTeX       bool   `mapstructure:"latex"`
	Plots       bool   `mapstructure:"plots"`
	Annotations bool   `mapstructure:"annotations"`
}

// StorageConfig holds run history configuration
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
	MaxRuns int    `mapstructure:"max_runs"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// Nested keys map to RETROEVAL_SECTION_KEY
	v.SetEnvPrefix("RETROEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("evaluation.mode", string(evaluator.ModeSummary))
	v.SetDefault("evaluation.band", "med")
	v.SetDefault("evaluation.n_days", 0) // 0 = whole window
	v.SetDefault("evaluation.bin_length", 14)
	v.SetDefault("evaluation.include_mape", true)
	v.SetDefault("evaluation.include_raw_errors", false)
	v.SetDefault("evaluation.failure_policy", string(evaluator.FailSkip))
	v.SetDefault("evaluation.parallelism", 1)
	v.SetDefault("evaluation.precision", 1)

	v.SetDefault("loader.window", 7)
	v.SetDefault("loader.build_baselines", true)
	v.SetDefault("loader.drop_incomplete", true)
	v.SetDefault("loader.parse_policy", "lenient")
	v.SetDefault("loader.delimiter", ",")
	v.SetDefault("loader.date_column", "date")

	v.SetDefault("source.data_dir", "./data")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay_base", "1s")

	v.SetDefault("report.output_dir", "./results")
	v.SetDefault("report.csv", true)
	v.SetDefault("report.latex", false)
	v.SetDefault("report.plots", false)
	v.SetDefault("report.annotations", false)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/retroeval.db")
	v.SetDefault("storage.max_runs", 100)

	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate catalog
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("scenarios must contain at least one scenario")
	}
	seen := make(map[string]bool, len(c.Scenarios))
	for i, sc := range c.Scenarios {
		if sc.Key == "" {
			return fmt.Errorf("scenarios[%d].key is required", i)
		}
		if seen[sc.Key] {
			return fmt.Errorf("scenarios[%d].key %q is duplicated", i, sc.Key)
		}
		seen[sc.Key] = true
		if sc.Source == "" {
			return fmt.Errorf("scenarios[%d].source is required", i)
		}
		if sc.Normalization < 0 {
			return fmt.Errorf("scenarios[%d].normalization must not be negative", i)
		}
		names := make(map[string]bool, len(sc.Annotations))
		for j, a := range sc.Annotations {
			if a.Name == "" {
				return fmt.Errorf("scenarios[%d].annotations[%d].name is required", i, j)
			}
			if names[a.Name] || isBuiltinAnnotation(a.Name) {
				return fmt.Errorf("scenarios[%d].annotations[%d].name %q is duplicated", i, j, a.Name)
			}
			names[a.Name] = true
		}
	}
	for i, bc := range c.Evaluation.BedColumns {
		if bc.Metric == "" || bc.Name == "" {
			return fmt.Errorf("evaluation.bed_columns[%d] requires metric and name", i)
		}
		if !slices.Contains(c.Evaluation.BedMetrics, bc.Metric) {
			return fmt.Errorf("evaluation.bed_columns[%d].metric %q is not in bed_metrics", i, bc.Metric)
		}
	}
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d].name is required", i)
		}
		if err := models.ValidateNormalization(ep.Normalization); err != nil {
			return fmt.Errorf("endpoints[%d].normalization: %w", i, err)
		}
	}
	for i, m := range c.Metrics {
		if m.Name == "" {
			return fmt.Errorf("metrics[%d].name is required", i)
		}
	}

	// Validate evaluation and loader config through the evaluator's own rules
	ec, err := c.EvaluatorConfig()
	if err != nil {
		return err
	}
	if err := ec.Validate(); err != nil {
		return fmt.Errorf("evaluation: %w", err)
	}
	if c.Evaluation.Stratify && ec.Mode != evaluator.ModeRegistry {
		return fmt.Errorf("evaluation.stratify requires registry mode")
	}
	if c.Loader.Window < 1 {
		return fmt.Errorf("loader.window must be at least 1")
	}

	// Validate Source config
	if c.Source.MaxRetries < 1 {
		return fmt.Errorf("source.max_retries must be at least 1")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be positive")
	}

	// Validate Report config
	if c.Report.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required")
	}

	// Validate Storage config
	if c.Storage.Enabled {
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required when storage is enabled")
		}
		if c.Storage.MaxRuns < 1 {
			return fmt.Errorf("storage.max_runs must be at least 1")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// endpointNormalization looks an endpoint tag up case-insensitively.
func (c *Config) endpointNormalization(endpoint string) (float64, bool) {
	for _, ep := range c.Endpoints {
		if strings.EqualFold(ep.Name, endpoint) {
			return ep.Normalization, true
		}
	}
	return 0, false
}

// Catalog resolves the configured scenarios, in configuration order.
func (c *Config) Catalog() ([]models.Scenario, error) {
	catalog := make([]models.Scenario, 0, len(c.Scenarios))
	for _, sc := range c.Scenarios {
		date, tag, err := models.ParseScenarioKey(sc.Key)
		if err != nil {
			return nil, err
		}
		endpoint := sc.Endpoint
		if endpoint == "" {
			endpoint = tag
		}

		norm := sc.Normalization
		if norm == 0 {
			var ok bool
			norm, ok = c.endpointNormalization(endpoint)
			if !ok {
				return nil, fmt.Errorf("scenario %s: no normalization and no endpoint entry for %q", sc.Key, endpoint)
			}
		}

		cutoff := date
		if sc.Cutoff != "" {
			cutoff, err = parseDate(sc.Cutoff)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: invalid cutoff: %w", sc.Key, err)
			}
		}

		scenario := models.Scenario{
			Key:           sc.Key,
			Date:          date,
			Endpoint:      endpoint,
			Source:        sc.Source,
			Normalization: norm,
			Increasing:    sc.Increasing,
			Cutoff:        cutoff,
			Annotations:   scenarioAnnotations(sc, endpoint, date),
		}
		if err := scenario.Validate(); err != nil {
			return nil, err
		}
		catalog = append(catalog, scenario)
	}
	return catalog, nil
}

func isBuiltinAnnotation(name string) bool {
	switch name {
	case AnnotationEndpoint, AnnotationDate, AnnotationPublic, AnnotationSelfAssessment, AnnotationValidAssessment:
		return true
	}
	return false
}

// scenarioAnnotations lists the set annotations of a scenario: the builtin
// ones first, then the free-form ones in configuration order.
func scenarioAnnotations(sc ScenarioConfig, endpoint string, date time.Time) []models.Annotation {
	annotations := []models.Annotation{
		{Name: AnnotationEndpoint, Value: endpoint},
		{Name: AnnotationDate, Value: date.Format(models.ScenarioDateLayout)},
	}
	for _, a := range []models.Annotation{
		{Name: AnnotationPublic, Value: sc.Public},
		{Name: AnnotationSelfAssessment, Value: sc.SelfAssessment},
		{Name: AnnotationValidAssessment, Value: sc.ValidAssessment},
	} {
		if a.Value != "" {
			annotations = append(annotations, a)
		}
	}
	for _, a := range sc.Annotations {
		annotations = append(annotations, models.Annotation{Name: a.Name, Value: a.Value})
	}
	return annotations
}

// AnnotationColumns lists the annotation tag columns: Endpoint and Date,
// then every other annotation set on at least one scenario, builtin ones
// first and free-form ones in first-seen order.
func (c *Config) AnnotationColumns() []string {
	columns := []string{AnnotationEndpoint, AnnotationDate}
	for _, builtin := range []struct {
		name string
		get  func(ScenarioConfig) string
	}{
		{AnnotationPublic, func(sc ScenarioConfig) string { return sc.Public }},
		{AnnotationSelfAssessment, func(sc ScenarioConfig) string { return sc.SelfAssessment }},
		{AnnotationValidAssessment, func(sc ScenarioConfig) string { return sc.ValidAssessment }},
	} {
		for _, sc := range c.Scenarios {
			if builtin.get(sc) != "" {
				columns = append(columns, builtin.name)
				break
			}
		}
	}
	seen := make(map[string]bool)
	for _, sc := range c.Scenarios {
		for _, a := range sc.Annotations {
			if !seen[a.Name] {
				seen[a.Name] = true
				columns = append(columns, a.Name)
			}
		}
	}
	return columns
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{models.ScenarioDateLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Registry builds the metric registry in configuration order. An empty
// metrics section yields MAE, ME and Max Error.
func (c *Config) Registry() (*metrics.Registry, error) {
	if len(c.Metrics) == 0 {
		return metrics.DefaultRegistry(), nil
	}
	reg := metrics.NewRegistry()
	for _, m := range c.Metrics {
		var fn metrics.Func
		if m.Expression == "" {
			builtin, ok := metrics.Builtin(m.Name)
			if !ok {
				return nil, fmt.Errorf("metric %q is not a builtin and has no expression", m.Name)
			}
			fn = builtin
		} else {
			expr, err := metrics.Expression(m.Expression, m.Aggregate)
			if err != nil {
				return nil, fmt.Errorf("metric %q: %w", m.Name, err)
			}
			fn = expr
		}
		if err := reg.Register(m.Name, fn); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadOptions converts the loader section.
func (c *Config) LoadOptions() (series.LoadOptions, error) {
	policy, err := series.ParsePolicyFromString(c.Loader.ParsePolicy)
	if err != nil {
		return series.LoadOptions{}, fmt.Errorf("loader.parse_policy: %w", err)
	}
	delim := []rune(c.Loader.Delimiter)
	if len(delim) != 1 {
		return series.LoadOptions{}, fmt.Errorf("loader.delimiter must be a single character")
	}
	dateColumn := c.Loader.DateColumn
	if dateColumn == "" {
		dateColumn = "date"
	}
	return series.LoadOptions{
		BuildBaselines: c.Loader.BuildBaselines,
		DropIncomplete: c.Loader.DropIncomplete,
		Window:         c.Loader.Window,
		Read: series.ReadOptions{
			DateColumn: dateColumn,
			Delimiter:  delim[0],
			Policy:     policy,
		},
	}, nil
}

// EvaluatorConfig converts the evaluation and loader sections.
func (c *Config) EvaluatorConfig() (evaluator.Config, error) {
	load, err := c.LoadOptions()
	if err != nil {
		return evaluator.Config{}, err
	}
	ec := evaluator.Config{
		Mode:             evaluator.Mode(strings.ToLower(c.Evaluation.Mode)),
		Band:             c.Evaluation.Band,
		NDays:            c.Evaluation.NDays,
		BinLength:        c.Evaluation.BinLength,
		IncludeMAPE:      c.Evaluation.IncludeMAPE,
		IncludeRawErrors: c.Evaluation.IncludeRawErrors,
		BedMetrics:       c.Evaluation.BedMetrics,
		FailurePolicy:    evaluator.FailurePolicy(strings.ToLower(c.Evaluation.FailurePolicy)),
		Parallelism:      c.Evaluation.Parallelism,
		Precision:        c.Evaluation.Precision,
		Load:             load,
	}
	if len(c.Evaluation.BedColumns) > 0 {
		ec.BedColumnNames = make(map[string]string, len(c.Evaluation.BedColumns))
		for _, bc := range c.Evaluation.BedColumns {
			ec.BedColumnNames[bc.Metric] = bc.Name
		}
	}
	if c.Report.Annotations {
		ec.AnnotationColumns = c.AnnotationColumns()
	}
	return ec, nil
}

// SourceClientConfig converts the source section.
func (c *Config) SourceClientConfig() source.ClientConfig {
	return source.ClientConfig{
		DataDir:        c.Source.DataDir,
		Timeout:        c.Source.Timeout,
		MaxRetries:     c.Source.MaxRetries,
		RetryDelayBase: c.Source.RetryDelayBase,
		S3Region:       c.Source.S3Region,
	}
}
