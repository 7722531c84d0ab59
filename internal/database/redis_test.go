package database

import (
	"context"
	"testing"
)

func TestOpenRedis_InvalidURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-redis-url", 10)
	if err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestOpenRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// キャンセル済みのctxではPingが即座に失敗する
	_, err := OpenRedis(ctx, "redis://127.0.0.1:1/0", 1)
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
