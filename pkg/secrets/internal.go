package secrets

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql driver loaded here
	_ "github.com/lib/pq"              // postgres driver loaded here
	_ "modernc.org/sqlite"             // sqlite driver loaded here

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// InternalProvider stores secrets encrypted in a database of its own, separate
// from any session database. Supported backends: sqlite, postgres, mysql.
type InternalProvider struct {
	db     *sql.DB
	key    []byte
	dbType string
}

// NewInternalProvider opens (and if needed initializes) the secrets database.
// The backend is detected from the connection string.
func NewInternalProvider(conn string, key []byte) (*InternalProvider, error) {
	dbt, err := detectDBType(conn)
	if err != nil {
		return nil, fmt.Errorf("can't determine database type: %w", err)
	}

	db, err := sql.Open(dbt, conn)
	if err != nil {
		return nil, fmt.Errorf("error opening secrets database: %w", err)
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS pond_secrets (skey VARCHAR(255) PRIMARY KEY, sval TEXT);`); err != nil {
		return nil, err
	}
	log.Printf("[INFO] secrets provider: using %s database, type: %s", conn, dbt)
	return &InternalProvider{db: db, dbType: dbt, key: key}, nil
}

func detectDBType(conn string) (string, error) {
	switch {
	case strings.HasPrefix(conn, "postgres://"):
		return "postgres", nil
	case strings.Contains(conn, "@tcp("):
		return "mysql", nil
	case strings.HasPrefix(conn, "file:/") || strings.HasSuffix(conn, ".sqlite") || strings.HasSuffix(conn, ".db"):
		return "sqlite", nil
	}
	return "", fmt.Errorf("unsupported database type in connection string")
}

// Get retrieves a secret, decrypts it and returns the plaintext.
func (p *InternalProvider) Get(key string) (string, error) {
	loadStmt := "SELECT sval FROM pond_secrets WHERE skey = ?"
	if p.dbType == "postgres" {
		loadStmt = "SELECT sval FROM pond_secrets WHERE skey = $1"
	}
	stmt, err := p.db.Prepare(loadStmt)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	var encryptedData []byte
	if err = stmt.QueryRow(key).Scan(&encryptedData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.New("secret not found")
		}
		return "", err
	}

	decrypted, err := p.decrypt(string(encryptedData))
	if err != nil {
		return "", fmt.Errorf("can't get secret for %s: %w", key, err)
	}
	return decrypted, nil
}

// Set stores a secret, encrypted.
func (p *InternalProvider) Set(key, value string) error {
	encryptedData, err := p.encrypt(value)
	if err != nil {
		return fmt.Errorf("can't set secret for %s: %w", key, err)
	}

	var insertStmt string
	switch p.dbType {
	case "sqlite":
		insertStmt = "INSERT OR REPLACE INTO pond_secrets (skey, sval) VALUES ($1, $2)"
	case "postgres":
		insertStmt = "INSERT INTO pond_secrets (skey, sval) VALUES ($1, $2) ON CONFLICT (skey) DO UPDATE SET sval = $2;"
	case "mysql":
		insertStmt = "REPLACE INTO pond_secrets (skey, sval) VALUES (?, ?)"
	default:
		return fmt.Errorf("unsupported database type: %s", p.dbType)
	}

	stmt, err := p.db.Prepare(insertStmt)
	if err != nil {
		return fmt.Errorf("error preparing insert statement: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(key, encryptedData); err != nil {
		return fmt.Errorf("error inserting secret: %w", err)
	}
	return nil
}

// Delete removes a secret.
func (p *InternalProvider) Delete(key string) error {
	deleteStmt := "DELETE FROM pond_secrets WHERE skey = ?"
	if p.dbType == "postgres" {
		deleteStmt = "DELETE FROM pond_secrets WHERE skey = $1"
	}
	stmt, err := p.db.Prepare(deleteStmt)
	if err != nil {
		return fmt.Errorf("error preparing delete statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(key)
	if err != nil {
		return fmt.Errorf("error deleting secret for %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("key not found in the database: %s", key)
	}
	return nil
}

// List retrieves secret keys with an optional prefix filter.
func (p *InternalProvider) List(prefix string) ([]string, error) {
	var keys []string
	var rows *sql.Rows
	var err error

	listStmt := "SELECT skey FROM pond_secrets"
	if prefix != "*" && prefix != "" {
		if p.dbType == "postgres" {
			listStmt = "SELECT skey FROM pond_secrets WHERE skey LIKE $1"
		} else {
			listStmt = "SELECT skey FROM pond_secrets WHERE skey LIKE ?"
		}
		rows, err = p.db.Query(listStmt, prefix+"%")
	} else {
		rows, err = p.db.Query(listStmt)
	}
	if err != nil {
		return nil, fmt.Errorf("error listing secrets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("error scanning secret keys: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error retrieving secret keys: %w", err)
	}
	return keys, nil
}

// encrypt seals data with NaCl secretbox under a key derived from the provider
// key and a fresh random salt. Output layout: nonce(24) + salt(16) + sealed
// data, base64-encoded.
func (p *InternalProvider) encrypt(data string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(p.key, salt))

	nonce := new([24]byte)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	out := make([]byte, 24+16)
	copy(out, nonce[:])
	copy(out[24:], salt)

	sealed := secretbox.Seal(out, []byte(data), nonce, naclKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses encrypt: pull the nonce and salt off the front, re-derive the
// key and open the box.
func (p *InternalProvider) decrypt(encodedData string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encodedData)
	if err != nil {
		return "", err
	}
	if len(sealed) < 40 {
		return "", errors.New("encrypted data too short")
	}

	nonce := new([24]byte)
	copy(nonce[:], sealed[:24])

	salt := sealed[24:40]
	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(p.key, salt))

	decrypted, ok := secretbox.Open(nil, sealed[40:], nonce, naclKey)
	if !ok {
		return "", errors.New("failed to decrypt")
	}
	return string(decrypted), nil
}

// deriveKey stretches the user key with argon2id. Parameters are a reasonable
// middle ground between derivation cost and interactive use.
func deriveKey(key, salt []byte) []byte {
	return argon2.IDKey(key, salt, 1, 64*1024, 4, 32)
}
