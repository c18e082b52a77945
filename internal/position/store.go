package position

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store persists and retrieves canonical positions keyed by (symbol, side).
type Store interface {
	// Upsert inserts or updates the record identified by p.Key(). Existing
	// rows are matched by contract_symbol+side; the most recently opened row
	// (rows without opened_at last, then highest id) is updated, whatever
	// its status. With no match a new row is inserted.
	Upsert(ctx context.Context, p *Position) error
	// Get returns the stored record for symbol/side, or (nil, false) if none.
	Get(ctx context.Context, symbol string, side Side) (*Position, bool, error)
	// Active returns every row whose status is OPEN (GormStore also counts
	// the legacy NORMAL label as active).
	Active(ctx context.Context) ([]*Position, error)
	// Close marks the row for symbol/side as CLOSED at closedAt.
	Close(ctx context.Context, symbol string, side Side, closedAt time.Time) error
}

// Record is the GORM row model for a Position. Decimal fields are stored as
// strings (varchar) since neither MySQL's DECIMAL type nor gorm's default
// scanning handles shopspring/decimal directly without a dialect-specific
// serializer.
type Record struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	ContractSymbol string `gorm:"column:contract_symbol;uniqueIndex:idx_symbol_side;not null"`
	Side           string `gorm:"column:side;uniqueIndex:idx_symbol_side;not null"`
	Status         string `gorm:"column:status;index;not null"`
	Exchange       string `gorm:"column:exchange;not null"`
	AmountUSDT     string `gorm:"column:amount_usdt;type:varchar(64);not null"`

	EntryPrice      *string `gorm:"column:entry_price;type:varchar(64)"`
	QtyContract     *string `gorm:"column:qty_contract;type:varchar(64)"`
	Leverage        *string `gorm:"column:leverage;type:varchar(64)"`
	ExternalOrderID string  `gorm:"column:external_order_id"`

	OpenedAt *time.Time `gorm:"column:opened_at;index"`
	ClosedAt *time.Time `gorm:"column:closed_at"`

	StopLoss   *string `gorm:"column:stop_loss;type:varchar(64)"`
	TakeProfit *string `gorm:"column:take_profit;type:varchar(64)"`
	PnLUSDT    *string `gorm:"column:pnl_usdt;type:varchar(64)"`

	TimeInForce    string     `gorm:"column:time_in_force"`
	ExpiresAt      *time.Time `gorm:"column:expires_at"`
	ExternalStatus string     `gorm:"column:external_status"`
	LastSyncAt     time.Time  `gorm:"column:last_sync_at"`

	// Meta stores the normalizer's opaque residual fields (spec.md §9) as a
	// JSON-encoded string, mirroring db.py's json.dumps(update.meta)/
	// json.loads round trip.
	Meta string `gorm:"column:meta;type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Record) TableName() string { return "positions" }

// GormStore is the MySQL-backed Store, grounded on the teacher's
// MySQLRecorder pattern: gorm.Open + AutoMigrate on construction, errors
// wrapped with fmt.Errorf("%w").
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a MySQL connection and migrates the positions table.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("position: failed to connect to mysql: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("position: failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB wraps an already-open *gorm.DB, migrating the schema.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("position: failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Shutdown closes the underlying database connection pool.
func (s *GormStore) Shutdown() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("position: failed to get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// Upsert finds the most recent existing row by (symbol, side), ordered by
// opened_at descending then id descending, and either updates or inserts.
func (s *GormStore) Upsert(ctx context.Context, p *Position) error {
	rec := toRecord(p)

	var existing Record
	err := s.db.WithContext(ctx).
		Where("contract_symbol = ? AND side = ?", p.ContractSymbol, string(p.Side)).
		Order("opened_at IS NULL, opened_at DESC, id DESC").
		First(&existing).Error

	switch {
	case err == nil:
		rec.ID = existing.ID
		if err := s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", existing.ID).Updates(toUpdateMap(rec)).Error; err != nil {
			return fmt.Errorf("position: failed to update row %d: %w", existing.ID, err)
		}
		return nil
	case err == gorm.ErrRecordNotFound:
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			return fmt.Errorf("position: failed to insert row: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("position: failed to look up existing row: %w", err)
	}
}

func (s *GormStore) Get(ctx context.Context, symbol string, side Side) (*Position, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("contract_symbol = ? AND side = ?", symbol, string(side)).
		Order("opened_at IS NULL, opened_at DESC, id DESC").
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("position: failed to get row: %w", err)
	}
	return fromRecord(&rec), true, nil
}

// Active returns every row with status OPEN or NORMAL (the latter kept for
// compatibility with rows written by a revision that used that label).
func (s *GormStore) Active(ctx context.Context) ([]*Position, error) {
	var recs []Record
	if err := s.db.WithContext(ctx).Where("exchange = ? AND status IN ?", Exchange, []string{"OPEN", "NORMAL"}).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("position: failed to list active rows: %w", err)
	}
	out := make([]*Position, 0, len(recs))
	for i := range recs {
		out = append(out, fromRecord(&recs[i]))
	}
	return out, nil
}

func (s *GormStore) Close(ctx context.Context, symbol string, side Side, closedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&Record{}).
		Where("contract_symbol = ? AND side = ? AND status = ?", symbol, string(side), string(Open)).
		Updates(map[string]any{
			"status":       string(Closed),
			"closed_at":    closedAt,
			"last_sync_at": closedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("position: failed to close row: %w", result.Error)
	}
	return nil
}

func toRecord(p *Position) *Record {
	return &Record{
		ContractSymbol:  p.ContractSymbol,
		Side:            string(p.Side),
		Status:          string(p.Status),
		Exchange:        p.Exchange,
		AmountUSDT:      p.AmountUSDT.String(),
		EntryPrice:      decimalPtrToString(p.EntryPrice),
		QtyContract:     decimalPtrToString(p.QtyContract),
		Leverage:        decimalPtrToString(p.Leverage),
		ExternalOrderID: p.ExternalOrderID,
		OpenedAt:        p.OpenedAt,
		ClosedAt:        p.ClosedAt,
		StopLoss:        decimalPtrToString(p.StopLoss),
		TakeProfit:      decimalPtrToString(p.TakeProfit),
		PnLUSDT:         decimalPtrToString(p.PnLUSDT),
		TimeInForce:     p.TimeInForce,
		ExpiresAt:       p.ExpiresAt,
		ExternalStatus:  p.ExternalStatus,
		LastSyncAt:      p.LastSyncAt,
		Meta:            marshalMeta(p.Meta),
	}
}

func toUpdateMap(r *Record) map[string]any {
	return map[string]any{
		"status":            r.Status,
		"amount_usdt":       r.AmountUSDT,
		"entry_price":       r.EntryPrice,
		"qty_contract":      r.QtyContract,
		"leverage":          r.Leverage,
		"external_order_id": r.ExternalOrderID,
		"opened_at":         r.OpenedAt,
		"closed_at":         r.ClosedAt,
		"stop_loss":         r.StopLoss,
		"take_profit":       r.TakeProfit,
		"pnl_usdt":          r.PnLUSDT,
		"time_in_force":     r.TimeInForce,
		"expires_at":        r.ExpiresAt,
		"external_status":   r.ExternalStatus,
		"last_sync_at":      r.LastSyncAt,
		"meta":              r.Meta,
	}
}

func fromRecord(r *Record) *Position {
	return &Position{
		ContractSymbol:  r.ContractSymbol,
		Side:            Side(r.Side),
		Status:          Status(r.Status),
		Exchange:        r.Exchange,
		AmountUSDT:      mustDecimal(r.AmountUSDT),
		EntryPrice:      stringPtrToDecimal(r.EntryPrice),
		QtyContract:     stringPtrToDecimal(r.QtyContract),
		Leverage:        stringPtrToDecimal(r.Leverage),
		ExternalOrderID: r.ExternalOrderID,
		OpenedAt:        r.OpenedAt,
		ClosedAt:        r.ClosedAt,
		StopLoss:        stringPtrToDecimal(r.StopLoss),
		TakeProfit:      stringPtrToDecimal(r.TakeProfit),
		PnLUSDT:         stringPtrToDecimal(r.PnLUSDT),
		TimeInForce:     r.TimeInForce,
		ExpiresAt:       r.ExpiresAt,
		ExternalStatus:  r.ExternalStatus,
		LastSyncAt:      r.LastSyncAt,
		Meta:            unmarshalMeta(r.Meta),
	}
}

// marshalMeta mirrors db.py's json.dumps(update.meta, separators=(",", ":")).
// A nil or empty map stores as an empty string rather than "null" so a fresh
// row round-trips to a nil Meta, not an empty-but-non-nil one.
func marshalMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(data)
}

// unmarshalMeta mirrors db.py's tolerant meta decode: a blank or malformed
// value comes back as nil rather than failing the read.
func unmarshalMeta(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil
	}
	return meta
}

func decimalPtrToString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func stringPtrToDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
