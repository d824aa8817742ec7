package config

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TMDB_CACHE_TTL", "90m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CONTENT_STALE_AFTER", "soon")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 10.0.1.0/24")
	t.Setenv("SUPABASE_JWT_SECRET", "")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 90*time.Minute, cfg.TMDBCacheTTL)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 7*24*time.Hour, cfg.ContentStaleAfter)
	assert.Equal(t, "https://api.themoviedb.org/3", cfg.TMDBBaseURL)
	assert.Equal(t, "@every 30m", cfg.ReconcileSchedule)
	assert.Equal(t, []string{"10.0.0.1", "10.0.1.0/24"}, cfg.TrustedProxies)
	assert.Empty(t, cfg.SupabaseJWTSecret)
}

func TestLoadDefaultsTrustNoProxy(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "")
	assert.Nil(t, Load().TrustedProxies)
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "n", DBPort: "6543", DBSSLMode: "require"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=6543 sslmode=require TimeZone=UTC", cfg.DSN())

	cfg.DatabaseURL = "postgres://u:p@pooler:6543/n"
	assert.Equal(t, "postgres://u:p@pooler:6543/n", cfg.DSN())
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestGormLoggerLevels(t *testing.T) {
	buf := captureLog(t)
	l := NewGormLogger()
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), sql, nil)
	assert.Empty(t, buf.String(), "fast queries are quiet at Warn")

	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(ctx, time.Now(), sql, errors.New("relation does not exist"))
	assert.Contains(t, buf.String(), "[ERROR]")

	buf.Reset()
	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "[SLOW SQL]")

	buf.Reset()
	l.LogMode(gormLogger.Silent).Trace(ctx, time.Now(), sql, errors.New("x"))
	assert.Empty(t, buf.String())

	l.LogMode(gormLogger.Info).Trace(ctx, time.Now(), sql, nil)
	assert.Contains(t, buf.String(), "[QUERY]")
}
