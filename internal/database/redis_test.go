package database

import (
	"testing"

	"notify-realtime/internal/config"
	"notify-realtime/internal/logging"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisClientInvalidURL(t *testing.T) {
	_, err := NewRedisClient(config.RedisConfig{URL: "http://not-redis"}, logging.Discard())
	assert.ErrorContains(t, err, "invalid Redis URL")
}
