package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	MySQLDSN   string
	RedisURL   string
	Port       string
	BaseURL    string
	CronSecret string

	TallyAPIKey   string
	TallyOrgSlug  string
	SnapshotSpace string
	ForumURL      string
	ForumCategory int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	PollInterval int // minutes, 0 disables the internal scheduler
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		if def == "" {
			log.Fatalf("missing env %s", key)
		}
		return def
	}
	return v
}

func Load() Config {
	pi, _ := strconv.Atoi(getenv("POLL_INTERVAL", "60"))
	cat, _ := strconv.Atoi(getenv("FORUM_CATEGORY_ID", "7"))
	return Config{
		MySQLDSN:   getenv("MYSQL_DSN", "govdash:govdash@tcp(127.0.0.1:3306)/govdash?parseTime=true"),
		RedisURL:   getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		Port:       getenv("PORT", "8080"),
		BaseURL:    getenv("BASE_URL", "http://localhost:8080"),
		CronSecret: getenv("CRON_SECRET", ""),

		TallyAPIKey:   getenv("TALLY_API_KEY", ""),
		TallyOrgSlug:  getenv("TALLY_ORG_SLUG", "arbitrum"),
		SnapshotSpace: getenv("SNAPSHOT_SPACE", "arbitrumfoundation.eth"),
		ForumURL:      getenv("FORUM_URL", "https://forum.arbitrum.foundation"),
		ForumCategory: cat,

		VAPIDPublicKey:  getenv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getenv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    getenv("VAPID_SUBJECT", "mailto:admin@daovote.app"),

		PollInterval: pi,
	}
}
