package storage_test

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/ariacore/aria/internal/testutil"
	"github.com/ariacore/aria/pkg/storage"
	"github.com/stretchr/testify/require"
)

// newTestClient parses the shared testcontainer connection string into
// a storage.Config and opens a freshly migrated client against it.
func newTestClient(t *testing.T) *storage.Client {
	t.Helper()
	ctx := context.Background()

	u, err := url.Parse(testutil.GetBaseConnectionString(t))
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	password, _ := u.User.Password()

	cfg := storage.Config{
		Host:            u.Hostname(),
		Port:            port,
		User:            u.User.Username(),
		Password:        password,
		Database:        strings.TrimPrefix(u.Path, "/"),
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 0,
		ConnMaxIdleTime: 0,
	}

	client, err := storage.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClientMigratesAndPings(t *testing.T) {
	client := newTestClient(t)
	status, err := storage.Health(context.Background(), client.DB())
	require.NoError(t, err)
	require.Equal(t, "healthy", status.Status)
}
