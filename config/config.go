package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 从环境变量读取
type Config struct {
	Port string

	DBDriver         string // postgres | mysql | sqlite
	DatabaseURL      string
	DBMaxOpenConns   int
	StatementTimeout time.Duration
	SlowQuery        time.Duration

	RedisAddr string
	RedisPwd  string

	WebOrigin string
	RPID      string
	RPOrigins []string

	JWTSecret      string
	TokenTTL       time.Duration
	AdminEmails    []string
	BootstrapEmail string

	LateFeeDailyRate      int64
	MaxPerRequest         int
	ListMaxLimit          int
	NotificationRetention time.Duration
	SweepInterval         time.Duration

	EmailNotifications bool
	SMTPHost           string
	SMTPPort           string
	SMTPUsername       string
	SMTPPassword       string
	SMTPFrom           string
	AppName            string

	BlobDriver     string // fs | s3
	BlobFSRoot     string
	BlobS3Bucket   string
	BlobS3Region   string
	BlobS3Endpoint string
	BlobS3PathSty  bool
}

// LoadEnv loads a .env file when present; real environment variables win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
}

func get(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	if n, err := strconv.Atoi(get(k, "")); err == nil {
		return n
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(get(k, "")); err == nil {
		return d
	}
	return def
}

func getBool(k string) bool {
	b, _ := strconv.ParseBool(get(k, "false"))
	return b
}

func splitCSV(s string, lower bool) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			if lower {
				t = strings.ToLower(t)
			}
			out = append(out, t)
		}
	}
	return out
}

// Load reads the process environment. It does not validate; see Validate.
func Load() Config {
	dsn := get("DATABASE_URL", "")
	if dsn == "" && get("DB_HOST", "") != "" {
		dsn = "host=" + os.Getenv("DB_HOST") +
			" user=" + os.Getenv("DB_USER") +
			" password=" + os.Getenv("DB_PASSWORD") +
			" dbname=" + os.Getenv("DB_NAME") +
			" port=" + get("DB_PORT", "5432") +
			" sslmode=disable"
	}
	webOrigin := get("WEB_ORIGIN", "http://localhost:3000")
	return Config{
		Port:             get("PORT", "3001"),
		DBDriver:         strings.ToLower(get("DB_DRIVER", "postgres")),
		DatabaseURL:      dsn,
		DBMaxOpenConns:   getInt("DB_MAX_OPEN_CONNS", 20),
		StatementTimeout: getDuration("DB_STATEMENT_TIMEOUT", 5*time.Second),
		SlowQuery:        getDuration("DB_SLOW_QUERY", 500*time.Millisecond),

		RedisAddr: get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:  os.Getenv("REDIS_PASSWORD"),

		WebOrigin: webOrigin,
		RPID:      get("RP_ID", "localhost"),
		RPOrigins: splitCSV(get("RP_ORIGINS", webOrigin), false),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		TokenTTL:       getDuration("TOKEN_TTL", 7*24*time.Hour),
		AdminEmails:    splitCSV(os.Getenv("ADMIN_EMAILS"), true),
		BootstrapEmail: strings.ToLower(get("BOOTSTRAP_EMAIL", "")),

		LateFeeDailyRate:      int64(getInt("LATE_FEE_DAILY_RATE", 1000)),
		MaxPerRequest:         getInt("MAX_PER_REQUEST", 10),
		ListMaxLimit:          getInt("LIST_MAX_LIMIT", 100),
		NotificationRetention: getDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		SweepInterval:         getDuration("SWEEP_INTERVAL", 15*time.Minute),

		EmailNotifications: getBool("EMAIL_NOTIFICATIONS"),
		SMTPHost:           get("SMTP_HOST", ""),
		SMTPPort:           get("SMTP_PORT", "587"),
		SMTPUsername:       get("SMTP_USERNAME", ""),
		SMTPPassword:       get("SMTP_PASSWORD", ""),
		SMTPFrom:           get("SMTP_FROM", ""),
		AppName:            get("APP_NAME", "Equipment Loans"),

		BlobDriver:     strings.ToLower(get("BLOB_DRIVER", "fs")),
		BlobFSRoot:     get("BLOB_FS_ROOT", "./data/blobs"),
		BlobS3Bucket:   get("BLOB_S3_BUCKET", ""),
		BlobS3Region:   get("BLOB_S3_REGION", "us-east-1"),
		BlobS3Endpoint: get("BLOB_S3_ENDPOINT", ""),
		BlobS3PathSty:  getBool("BLOB_S3_PATH_STYLE"),
	}
}

// Validate reports settings that make the server unsafe to start.
func (c Config) Validate() []string {
	var problems []string
	if len(c.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 characters")
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL (or DB_HOST...) is required")
	}
	switch c.DBDriver {
	case "postgres", "mysql", "sqlite":
	default:
		problems = append(problems, "DB_DRIVER must be postgres, mysql or sqlite")
	}
	if c.MaxPerRequest < 1 {
		problems = append(problems, "MAX_PER_REQUEST must be >= 1")
	}
	if c.ListMaxLimit < 1 {
		problems = append(problems, "LIST_MAX_LIMIT must be >= 1")
	}
	if c.BlobDriver == "s3" && c.BlobS3Bucket == "" {
		problems = append(problems, "BLOB_S3_BUCKET is required when BLOB_DRIVER=s3")
	}
	return problems
}

// IsAdminEmail reports whether email is listed in ADMIN_EMAILS.
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range c.AdminEmails {
		if a == email {
			return true
		}
	}
	return false
}
