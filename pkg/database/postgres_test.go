package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/attendance-engine/pkg/config"
)

func TestDSNIncludesStatementTimeout(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "attendance", QueryTimeout: 3 * time.Second})
	assert.Contains(t, dsn, "statement_timeout=3000")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "dbname=attendance")
}

func TestDSNDefaultsTimeout(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, SSLMode: "require"})
	assert.Contains(t, dsn, "statement_timeout=5000")
	assert.Contains(t, dsn, "sslmode=require")
}
