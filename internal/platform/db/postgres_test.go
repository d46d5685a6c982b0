package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectRequiresDSN(t *testing.T) {
	conn, err := Connect(Options{})
	assert.Error(t, err)
	assert.Nil(t, conn)
}

func TestOptionsDefaults(t *testing.T) {
	options := Options{DSN: "postgres://localhost/dashsync", MaxOpenConns: 4}.withDefaults()
	assert.Equal(t, 4, options.MaxOpenConns)
	assert.Equal(t, defaultMaxIdleConns, options.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, options.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, options.ConnectTimeout)
}

func TestCloseNil(t *testing.T) {
	var conn *Postgres
	assert.NoError(t, conn.Close())
}
