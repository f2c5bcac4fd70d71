package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = ".shirabe"
	}
	if cfg.Index.Extensions == nil {
		cfg.Index.Extensions = []string{
			".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".rb", ".rs",
			".c", ".h", ".cpp", ".hpp", ".cs", ".php", ".sh", ".sql", ".proto",
			".md", ".yaml", ".yml", ".json", ".toml",
		}
	}
	if cfg.Index.ExcludeGlobs == nil {
		cfg.Index.ExcludeGlobs = []string{
			"**/node_modules/**", "**/vendor/**", "**/.git/**",
			"**/dist/**", "**/build/**", "**/*.min.js",
		}
	}
	if cfg.Index.MaxFileBytes == 0 {
		cfg.Index.MaxFileBytes = 1 << 20
	}
	if cfg.Index.ChunkBytes == 0 {
		cfg.Index.ChunkBytes = 2048
	}
	if cfg.Index.ChunkOverlapLines == 0 {
		cfg.Index.ChunkOverlapLines = 8
	}
	if cfg.Index.Oversample == 0 {
		cfg.Index.Oversample = 4
	}
	if cfg.ANN.M == 0 {
		cfg.ANN.M = 16
	}
	if cfg.ANN.EfConstruction == 0 {
		cfg.ANN.EfConstruction = 200
	}
	if cfg.ANN.EfSearch == 0 {
		cfg.ANN.EfSearch = 64
	}
	if cfg.ANN.RebuildDeletedRatio == 0 {
		cfg.ANN.RebuildDeletedRatio = 0.25
	}
	if cfg.ANN.CatchUpBudget == 0 {
		cfg.ANN.CatchUpBudget = 512
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "SHIRABE_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.RetryBackoffMS == 0 {
		cfg.Embedding.RetryBackoffMS = 250
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 4096
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 500
	}
}
