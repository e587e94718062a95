package ai

import "time"

type Config struct {
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	ChatModel     string `env:"OPENAI_CHAT_MODEL" envDefault:"gpt-4o-mini"`
	CodeModel     string `env:"OPENAI_CODE_MODEL" envDefault:"gpt-4o"`
	ImageModel    string `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`
	MaxTokens     int    `env:"OPENAI_MAX_TOKENS" envDefault:"2048"`

	HuggingFaceToken string        `env:"HUGGINGFACE_TOKEN"`
	MusicURL         string        `env:"HUGGINGFACE_MUSIC_URL" envDefault:"https://api-inference.huggingface.co/models/facebook/musicgen-small"`
	MusicTimeout     time.Duration `env:"MUSIC_TIMEOUT" envDefault:"90s"`
	MusicRetries     uint64        `env:"MUSIC_RETRY_ATTEMPTS" envDefault:"4"`
	MusicRetryDelay  time.Duration `env:"MUSIC_RETRY_INTERVAL" envDefault:"5s"`

	ReplicateToken   string        `env:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL string        `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com"`
	VideoModel       string        `env:"REPLICATE_VIDEO_MODEL" envDefault:"anotherjesse/zeroscope-v2-xl:9f747673945c62801b13b84701c783929c0ee784e4748ec062204894dda1a351"`
	VideoTimeout     time.Duration `env:"VIDEO_TIMEOUT" envDefault:"5m"`
	VideoPollDelay   time.Duration `env:"VIDEO_POLL_INTERVAL" envDefault:"3s"`
}
