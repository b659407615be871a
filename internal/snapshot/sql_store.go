package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/gtmsync/internal/tagmanager"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	sqlStoreTableName        = "gtmsync_collections"
	sqlStoreDefaultNamespace = "default"
	sqlOperationTimeout      = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLStore keeps one row per (namespace, collection) holding the JSON array.
// The namespace query parameter of the DSN selects the row set, so several
// containers can share one database.
type SQLStore struct {
	driver    string
	dsn       string
	tableName string
	namespace string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	connDSN, namespace, err := splitNamespace(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLStore{
		driver:    "postgres",
		dsn:       connDSN,
		tableName: sqlStoreTableName,
		namespace: namespace,
		openDB:    sql.Open,
	}, nil
}

// NewSQLiteStore accepts sqlite:///abs/path.db, sqlite://rel/path.db or a bare file path.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	path := dsn
	namespace := sqlStoreDefaultNamespace
	if strings.Contains(dsn, "://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return nil, err
		}
		if path, err = dsnPath(parsed); err != nil {
			return nil, err
		}
		if ns := strings.TrimSpace(parsed.Query().Get("namespace")); ns != "" {
			namespace = ns
		}
	}
	return &SQLStore{
		driver:    "sqlite",
		dsn:       path,
		tableName: sqlStoreTableName,
		namespace: namespace,
		openDB:    sql.Open,
	}, nil
}

// splitNamespace removes the namespace parameter, which lib/pq would
// otherwise forward to the server as a runtime setting.
func splitNamespace(dsn string) (string, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", "", err
	}
	q := parsed.Query()
	namespace := strings.TrimSpace(q.Get("namespace"))
	if namespace == "" {
		namespace = sqlStoreDefaultNamespace
	}
	q.Del("namespace")
	parsed.RawQuery = q.Encode()
	return parsed.String(), namespace, nil
}

func (s *SQLStore) Namespace() string {
	return s.namespace
}

func (s *SQLStore) Load(ctx context.Context, collection string) ([]tagmanager.Object, bool, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, false, ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE namespace = %s AND collection = %s",
		quoteIdentifier(s.tableName), s.placeholder(1), s.placeholder(2))
	var payload string
	err := s.db.QueryRowContext(ctx, query, s.namespace, collection).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	objects, err := tagmanager.DecodeObjects([]byte(payload))
	if err != nil {
		return nil, false, &DecodeError{Path: s.namespace + "/" + collection, Err: err}
	}
	return objects, true, nil
}

func (s *SQLStore) Save(ctx context.Context, collection string, objects []tagmanager.Object) error {
	if strings.TrimSpace(collection) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	payload, err := EncodeObjects(objects)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, collection, payload, updated_at)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (namespace, collection)
		DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		quoteIdentifier(s.tableName), s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	_, err = s.db.ExecContext(ctx, query, s.namespace, collection, string(payload), time.Now().UTC())
	return err
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady(ctx context.Context) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
		defer cancel()

		timestampType := "TIMESTAMPTZ"
		if s.driver == "sqlite" {
			timestampType = "TIMESTAMP"
		}
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				namespace TEXT NOT NULL,
				collection TEXT NOT NULL,
				payload TEXT NOT NULL,
				updated_at %s NOT NULL,
				PRIMARY KEY (namespace, collection)
			)`, quoteIdentifier(s.tableName), timestampType)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *SQLStore) placeholder(n int) string {
	if s.driver == "sqlite" {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
