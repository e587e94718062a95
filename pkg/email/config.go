package email

// Config holds mail settings. Tokens are optional so development setups can
// fall back to DevSender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	PostmarkBaseURL      string `env:"POSTMARK_BASE_URL"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"noreply@aidash.local"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@aidash.local"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}

// Enabled reports whether Postmark delivery is configured.
func (c Config) Enabled() bool { return c.PostmarkServerToken != "" }
