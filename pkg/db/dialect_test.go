package db

import (
	"testing"

	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	pg, err := DSN(config.Config{DBType: "PostgreSQL", DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "eventpay", DBPort: "5432"})
	require.NoError(t, err)
	assert.Equal(t, "host=db user=u password=p dbname=eventpay port=5432 sslmode=disable TimeZone=UTC", pg)

	lite, err := DSN(config.Config{DBType: "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, "eventpay.db?_busy_timeout=5000", lite)

	for _, dbType := range []string{"mysql", "oracle", ""} {
		_, err = DSN(config.Config{DBType: dbType})
		assert.ErrorIs(t, err, ErrUnsupportedType, dbType)

		_, err = Dialect(config.Config{DBType: dbType})
		assert.ErrorIs(t, err, ErrUnsupportedType, dbType)
	}
}
