package config

const (
	defaultProjectsDir            = "projects"
	defaultLogLevel               = "info"
	defaultTranscriptionMode      = "hybrid"
	defaultFallbackPolicy         = "local-first"
	defaultTranscriptionAPIURL    = "https://api.openai.com/v1"
	defaultTranscriptionKeyEnv    = "OPENAI_API_KEY"
	defaultTranscriptionTimeout   = 600
	defaultLLMBaseURL             = "https://openrouter.ai"
	defaultLLMTimeoutSeconds      = 30
	defaultAssetMaxRetries        = 2
	defaultAssetRetryDelayMs      = 500
	defaultSearchTimeoutSeconds   = 20
	defaultDownloadTimeoutSeconds = 45
	defaultAssetConcurrency       = 3
	defaultVideoProvider          = "pexels"
	defaultImageProvider          = "pixabay"
	defaultPexelsBaseURL          = "https://api.pexels.com"
	defaultPixabayBaseURL         = "https://pixabay.com"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		ProjectsDir: defaultProjectsDir,
		LogLevel:    defaultLogLevel,
		Transcription: Transcription{
			Mode:           defaultTranscriptionMode,
			FallbackPolicy: defaultFallbackPolicy,
			APIBaseURL:     defaultTranscriptionAPIURL,
			APIKeyEnv:      defaultTranscriptionKeyEnv,
			TimeoutSeconds: defaultTranscriptionTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Media: Media{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Assets: Assets{
			FetchExternal:          true,
			MaxRetries:             defaultAssetMaxRetries,
			RetryDelayMs:           defaultAssetRetryDelayMs,
			SearchTimeoutSeconds:   defaultSearchTimeoutSeconds,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
			Concurrency:            defaultAssetConcurrency,
			VideoProvider:          defaultVideoProvider,
			ImageProvider:          defaultImageProvider,
			PexelsBaseURL:          defaultPexelsBaseURL,
			PixabayBaseURL:         defaultPixabayBaseURL,
		},
	}
}
