package testsupport

import "testing"

func TestLoadPostgresConfigFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("POSTGRES_USER", "user")
	t.Setenv("POSTGRES_PASSWORD", "pass")
	t.Setenv("POSTGRES_DB", "db")
	t.Setenv("POSTGRES_PORT", "5543")

	cfg := LoadPostgresConfigFromEnv(t)

	if cfg.Host != "localhost" || cfg.Port != 5543 || cfg.SSLMode != "disable" {
		t.Fatalf("unexpected postgres config %+v", cfg)
	}
}

func TestLoadRedisConfigFromEnv_DefaultsToTestDB(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_TEST_DB", "")

	cfg := LoadRedisConfigFromEnv(t)

	if cfg.Addr() != "redis:6379" || cfg.DB != 15 {
		t.Fatalf("unexpected redis config %+v", cfg)
	}
}
