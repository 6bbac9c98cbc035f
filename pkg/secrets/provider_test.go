package secrets

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider(map[string]string{"k1": "v1"})

	v, err := p.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	_, err = p.Get("k2")
	assert.Error(t, err)
}

func TestNoOpProvider(t *testing.T) {
	p := &NoOpProvider{}
	_, err := p.Get("anything")
	require.Error(t, err)
}

func TestInternalProvider_EncryptionDecryption(t *testing.T) {
	p := &InternalProvider{key: []byte("test_key")}

	er, err := p.encrypt("test_value")
	require.NoError(t, err)
	dr, err := p.decrypt(er)
	require.NoError(t, err)
	assert.Equal(t, "test_value", dr)

	_, err = p.decrypt("dG9vc2hvcnQ=")
	assert.Error(t, err, "truncated payload rejected")
	_, err = p.decrypt("not base64 at all!")
	assert.Error(t, err)
}

func TestInternalProvider_SQLite(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "secrets.db")
	p, err := NewInternalProvider(dbFile, []byte("test_key"))
	require.NoError(t, err)

	require.NoError(t, p.Set("k1", "v1"))
	require.NoError(t, p.Set("k2", "v2"))
	require.NoError(t, p.Set("other", "v3"))

	v, err := p.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	keys, err := p.List("k")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	keys, err = p.List("*")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	require.NoError(t, p.Delete("k1"))
	_, err = p.Get("k1")
	assert.Error(t, err)
	assert.Error(t, p.Delete("k1"), "deleting a missing key reported")
}

func TestInternalProvider_BadConn(t *testing.T) {
	_, err := NewInternalProvider("what-is-this", []byte("k"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database type")
}

func TestInternalProvider_Containers(t *testing.T) {
	if testing.Short() {
		t.Skip("skip container-based tests in short mode")
	}
	ctx := context.Background()
	pgContainer, pgConnString, mysqlContainer, mysqlConnString := setupTestContainers(t)
	defer func() {
		require.NoError(t, pgContainer.Terminate(ctx))
		require.NoError(t, mysqlContainer.Terminate(ctx))
	}()

	testCases := []struct {
		name       string
		connString string
	}{
		{name: "PostgreSQL", connString: pgConnString},
		{name: "MySQL", connString: mysqlConnString},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := NewInternalProvider(tc.connString, []byte("test_key"))
			require.NoError(t, err)

			require.NoError(t, provider.Set("test_key", "test_value"))

			secret, err := provider.Get("test_key")
			require.NoError(t, err)
			assert.Equal(t, "test_value", secret)

			require.NoError(t, provider.Delete("test_key"))
			_, err = provider.Get("test_key")
			require.Error(t, err)
		})
	}
}

func setupTestContainers(t *testing.T) (pc testcontainers.Container, ps string, mc testcontainers.Container, ms string) {
	t.Helper()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env:          map[string]string{"POSTGRES_PASSWORD": "password"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections"),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err)

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	pgConnString := fmt.Sprintf("postgres://postgres:password@%s:%d/postgres?sslmode=disable", pgHost, pgPort.Int())

	mysqlReq := testcontainers.ContainerRequest{
		Image:        "mysql:8",
		ExposedPorts: []string{"3306/tcp"},
		Env:          map[string]string{"MYSQL_ROOT_PASSWORD": "password"},
		WaitingFor:   wait.ForLog("port: 3306  MySQL Community Server - GPL"),
	}
	mysqlContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mysqlReq,
		Started:          true,
	})
	require.NoError(t, err)
	mysqlHost, err := mysqlContainer.Host(ctx)
	require.NoError(t, err)
	mysqlPort, err := mysqlContainer.MappedPort(ctx, "3306")
	require.NoError(t, err)
	mysqlConnString := fmt.Sprintf("root:password@tcp(%s:%d)/mysql", mysqlHost, mysqlPort.Int())

	return pgContainer, pgConnString, mysqlContainer, mysqlConnString
}
