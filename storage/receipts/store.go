package receipts

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"tokensale/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1_000
	batchSize        = 500
)

var (
	// ErrChainBroken reports a receipt whose digest does not match its
	// contents or its predecessor.
	ErrChainBroken = errors.New("receipts: hash chain broken")
	errNilStore    = errors.New("receipts: store not configured")
)

// Receipt is one committed engine event. Each digest covers the previous
// digest so the journal is tamper evident.
type Receipt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	SaleID     string    `gorm:"size:66;index"`
	Type       string    `gorm:"size:64;index"`
	Actor      string    `gorm:"size:96;index"`
	Attributes string    `gorm:"type:text"`
	Timestamp  int64     `gorm:"not null"`
	PrevDigest string    `gorm:"size:64"`
	Digest     string    `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
}

// AttributeMap decodes the stored attribute JSON.
func (r *Receipt) AttributeMap() (map[string]string, error) {
	attrs := make(map[string]string)
	if strings.TrimSpace(r.Attributes) == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("receipts: decode attributes: %w", err)
	}
	return attrs, nil
}

// Config selects the journal backend.
type Config struct {
	Driver string
	DSN    string
	Path   string
}

// Store appends receipts and serves queries over them. A single process owns
// the sequence counter; concurrent writers from other processes are not
// supported.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu         sync.Mutex
	lastSeq    uint64
	lastDigest string
}

// Open connects to the configured backend and prepares the schema.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			var err error
			dsn, err = FileDSN(cfg.Path)
			if err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("receipts: postgres driver requires a dsn")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("receipts: unsupported driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("receipts: open database: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing gorm handle, migrating the schema and loading the
// current chain head.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Receipt{}); err != nil {
		return nil, fmt.Errorf("receipts: auto migrate: %w", err)
	}
	s := &Store{db: db, logger: logger, nowFn: time.Now}
	var head Receipt
	err := db.Order("sequence desc").Limit(1).Find(&head).Error
	if err != nil {
		return nil, fmt.Errorf("receipts: load head: %w", err)
	}
	if head.Digest != "" {
		s.lastSeq = head.Sequence
		s.lastDigest = head.Digest
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Append failures are logged because the
// engine has already committed the operation.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	payload := evt.Payload()
	if payload == nil {
		return
	}
	if _, err := s.Append(context.Background(), payload); err != nil {
		s.logger.Error("receipt append failed", "type", payload.Type, "error", err)
	}
}

// Append stores the payload as the next receipt in the chain.
func (s *Store) Append(ctx context.Context, payload *events.Payload) (*Receipt, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	if payload == nil || strings.TrimSpace(payload.Type) == "" {
		return nil, fmt.Errorf("receipts: payload type required")
	}
	attrs := payload.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("receipts: encode attributes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn().UTC()
	rec := &Receipt{
		ID:         uuid.New(),
		Sequence:   s.lastSeq + 1,
		SaleID:     attrs["saleId"],
		Type:       payload.Type,
		Actor:      actorOf(attrs),
		Attributes: string(encoded),
		Timestamp:  now.UnixNano(),
		PrevDigest: s.lastDigest,
		CreatedAt:  now,
	}
	rec.Digest, err = digest(rec)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("receipts: insert: %w", err)
	}
	s.lastSeq = rec.Sequence
	s.lastDigest = rec.Digest
	return rec, nil
}

func actorOf(attrs map[string]string) string {
	for _, key := range []string{"buyer", "seller"} {
		if v := attrs[key]; v != "" {
			return v
		}
	}
	return ""
}

func digest(r *Receipt) (string, error) {
	prev, err := hex.DecodeString(r.PrevDigest)
	if err != nil {
		return "", fmt.Errorf("receipts: decode previous digest: %w", err)
	}
	h := blake3.New(32, nil)
	var num [8]byte
	h.Write(prev)
	binary.BigEndian.PutUint64(num[:], r.Sequence)
	h.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(r.Timestamp))
	h.Write(num[:])
	for _, field := range []string{r.Type, r.SaleID, r.Actor, r.Attributes} {
		binary.BigEndian.PutUint64(num[:], uint64(len(field)))
		h.Write(num[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Filter narrows List and ExportParquet results.
type Filter struct {
	SaleID        string
	Type          string
	Actor         string
	AfterSequence uint64
	Limit         int
}

func (s *Store) query(ctx context.Context, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Receipt{}).Order("sequence asc")
	if f.SaleID != "" {
		q = q.Where("sale_id = ?", f.SaleID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.AfterSequence > 0 {
		q = q.Where("sequence > ?", f.AfterSequence)
	}
	return q
}

// List returns receipts in sequence order.
func (s *Store) List(ctx context.Context, f Filter) ([]Receipt, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var out []Receipt
	if err := s.query(ctx, f).Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("receipts: list: %w", err)
	}
	return out, nil
}

// Head returns the sequence and digest of the newest receipt.
func (s *Store) Head() (uint64, string) {
	if s == nil {
		return 0, ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, s.lastDigest
}

// VerifyResult summarises a successful chain verification.
type VerifyResult struct {
	Count uint64
	Head  string
}

// Verify walks the whole journal in batches and recomputes every digest.
func (s *Store) Verify(ctx context.Context) (VerifyResult, error) {
	if s == nil || s.db == nil {
		return VerifyResult{}, errNilStore
	}
	var (
		result VerifyResult
		prev   string
	)
	err := s.eachBatch(ctx, Filter{}, func(batch []Receipt) error {
		for i := range batch {
			rec := &batch[i]
			if rec.Sequence != result.Count+1 {
				return fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, result.Count+1, rec.Sequence)
			}
			if rec.PrevDigest != prev {
				return fmt.Errorf("%w: sequence %d does not link to its predecessor", ErrChainBroken, rec.Sequence)
			}
			want, err := digest(rec)
			if err != nil {
				return err
			}
			if want != rec.Digest {
				return fmt.Errorf("%w: sequence %d digest mismatch", ErrChainBroken, rec.Sequence)
			}
			prev = rec.Digest
			result.Count++
		}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	result.Head = prev
	return result, nil
}

// eachBatch pages through matching receipts by sequence.
func (s *Store) eachBatch(ctx context.Context, f Filter, fn func([]Receipt) error) error {
	cursor := f.AfterSequence
	for {
		page := f
		page.AfterSequence = cursor
		var batch []Receipt
		if err := s.query(ctx, page).Limit(batchSize).Find(&batch).Error; err != nil {
			return fmt.Errorf("receipts: scan: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		cursor = batch[len(batch)-1].Sequence
		if len(batch) < batchSize {
			return nil
		}
	}
}
