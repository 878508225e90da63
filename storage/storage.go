package storage

import (
	"bytes"
	"crypto/sha512"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/embereye/docpilot/settings"
	"github.com/gchaincl/dotsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"
	"io"
	"strings"
)

//go:embed queries.sql
var queriesFs embed.FS

type Storage struct {
	Db      *sqlx.DB
	queries *dotsql.DotSql
	lg      zerolog.Logger
}

func NewStorage(config *settings.DatabaseConfigurationSection, lg zerolog.Logger) (*Storage, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		config.User, config.Password, config.Host, config.Port, config.Database)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}
	db.SetMaxOpenConns(64)

	queriesText, err := queriesFs.ReadFile("queries.sql")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded queries: %v", err)
	}

	queries, err := dotsql.LoadFromString(string(queriesText))
	if err != nil {
		return nil, fmt.Errorf("error parsing queries: %v", err)
	}

	storage := &Storage{
		Db:      db,
		queries: queries,
		lg:      lg,
	}
	storage.execDDLs()

	return storage, nil
}

func (s *Storage) execDDLs() {
	for qName := range s.queries.QueryMap() {
		if strings.HasPrefix(qName, "ddl-") {
			s.lg.Info().Str("name", qName).Msg("running DDL")
			if _, err := s.queries.Exec(s.Db, qName); err != nil {
				s.lg.Fatal().Err(err).Str("name", qName).Msg("error running DDL")
			}
		}
	}
}

func GetHash(s string) string {
	h := sha512.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

type DocumentRecord struct {
	Id       string `db:"id"`
	Title    string `db:"title"`
	Language string `db:"language"`
	BodyXz   []byte `db:"body_xz"`
}

func (s *Storage) SaveDocument(docId, title, language, body string) error {
	compressed, err := compress([]byte(body))
	if err != nil {
		return fmt.Errorf("error compressing document %s: %v", docId, err)
	}

	_, err = s.exec("save-document", docId, title, language, compressed)
	return err
}

func (s *Storage) GetDocument(docId string) (*DocumentRecord, string, error) {
	records := make([]DocumentRecord, 0, 1)
	if err := s.selectQuery("get-document", &records, docId); err != nil {
		return nil, "", err
	}
	if len(records) == 0 {
		return nil, "", nil
	}

	body, err := decompress(records[0].BodyXz)
	if err != nil {
		return nil, "", fmt.Errorf("error decompressing document %s: %v", docId, err)
	}

	return &records[0], string(body), nil
}

type SummaryRecord struct {
	DocId   string `db:"doc_id"`
	Summary string `db:"summary"`
	Status  string `db:"status"`
}

func (s *Storage) SaveSummary(docId, summary, status string) error {
	_, err := s.exec("save-summary", docId, summary, status)
	return err
}

func (s *Storage) GetSummary(docId string) (*SummaryRecord, error) {
	records := make([]SummaryRecord, 0, 1)
	if err := s.selectQuery("get-summary", &records, docId); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

type embeddingsCacheRecord struct {
	Id        int64  `db:"id"`
	Model     string `db:"model"`
	TextHash  string `db:"text_hash"`
	Embedding []byte `db:"embedding"`
}

func (s *Storage) GetCachedEmbedding(model, text string) ([]float64, error) {
	records := make([]embeddingsCacheRecord, 0, 1)
	if err := s.selectQuery("query-embeddings-cache", &records, model, GetHash(text)); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	vector := make([]float64, 0)
	if err := json.Unmarshal(records[0].Embedding, &vector); err != nil {
		return nil, fmt.Errorf("error decoding cached embedding: %v", err)
	}

	if _, err := s.exec("mark-embeddings-cache-hit", records[0].Id); err != nil {
		s.lg.Error().Err(err).Msgf("error marking embeddings cache hit for id: %d", records[0].Id)
	}

	return vector, nil
}

func (s *Storage) SaveCachedEmbedding(model, text string, vector []float64) error {
	serialized, err := json.Marshal(vector)
	if err != nil {
		return err
	}

	_, err = s.exec("insert-embeddings-cache-record", model, GetHash(text), len(vector), serialized)
	return err
}

func (s *Storage) exec(name string, args ...interface{}) (sql.Result, error) {
	result, err := s.queries.Exec(s.Db, name, args...)
	if err != nil {
		return nil, fmt.Errorf("error running %s: %v", name, err)
	}
	return result, nil
}

func (s *Storage) selectQuery(name string, dest interface{}, args ...interface{}) error {
	raw, err := s.queries.Raw(name)
	if err != nil {
		return fmt.Errorf("unknown query %s: %v", name, err)
	}
	if err := s.Db.Select(dest, raw, args...); err != nil {
		return fmt.Errorf("error running %s: %v", name, err)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	buffer := &bytes.Buffer{}
	writer, err := xz.NewWriter(buffer)
	if err != nil {
		return nil, err
	}
	if _, err = writer.Write(data); err != nil {
		return nil, err
	}
	if err = writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	reader, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}
