package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-ledger/internal/gate"
	"github.com/example/ride-ledger/internal/models"
)

// PostgresStore is the durable record table behind the remote adapter.
// Racing submits against the same record serialize on SELECT ... FOR UPDATE,
// so the first committed accept wins and the loser fails at the gate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const recordColumns = `id, requester_id, provider_id, pickup_name, pickup_lat, pickup_lon,
	dropoff_name, dropoff_lat, dropoff_lon, amount, status, is_rated, rating, created_at`

func (p *PostgresStore) List(ctx context.Context, limit int) (models.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM ride_records ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	defer rows.Close()
	var out models.Snapshot
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (models.RideRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM ride_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RideRecord{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return rec, err
}

// Create inserts a new record and runs effect (the escrow hold) inside the
// same transaction; a failed effect rolls the row back.
func (p *PostgresStore) Create(ctx context.Context, intent models.MutationIntent, effect func(id int64) error) (models.RideRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	defer tx.Rollback()

	rec := models.RideRecord{
		RequesterID: intent.Actor,
		Pickup:      intent.Pickup,
		Dropoff:     intent.Dropoff,
		Amount:      intent.Amount,
		Status:      models.StatusCreated,
		CreatedAt:   time.Now().UTC(),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO ride_records (requester_id, pickup_name, pickup_lat, pickup_lon,
			dropoff_name, dropoff_lat, dropoff_lon, amount, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		rec.RequesterID, rec.Pickup.Name, rec.Pickup.Lat, rec.Pickup.Lon,
		rec.Dropoff.Name, rec.Dropoff.Lat, rec.Dropoff.Lon,
		rec.Amount, rec.Status, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	if effect != nil {
		if err := effect(rec.ID); err != nil {
			return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	return rec, nil
}

// Apply locks the row, re-validates the transition against the row as it is
// now (not as the caller saw it), writes the result and runs effect (refund
// or release) inside the same transaction.
func (p *PostgresStore) Apply(ctx context.Context, intent models.MutationIntent, effect func(rec models.RideRecord) error) (models.RideRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM ride_records WHERE id = $1 FOR UPDATE`, intent.RecordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RideRecord{}, fmt.Errorf("record %d: %w", intent.RecordID, ErrNotFound)
	}
	if err != nil {
		return models.RideRecord{}, err
	}
	if err := gate.Apply(&rec, intent); err != nil {
		return models.RideRecord{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE ride_records SET provider_id=$1, status=$2, is_rated=$3, rating=$4 WHERE id=$5`,
		nullable(rec.ProviderID), rec.Status, rec.IsRated, rec.Rating, rec.ID)
	if err != nil {
		return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	if effect != nil {
		if err := effect(rec); err != nil {
			return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.RideRecord, error) {
	var rec models.RideRecord
	var provider sql.NullString
	err := row.Scan(&rec.ID, &rec.RequesterID, &provider,
		&rec.Pickup.Name, &rec.Pickup.Lat, &rec.Pickup.Lon,
		&rec.Dropoff.Name, &rec.Dropoff.Lat, &rec.Dropoff.Lon,
		&rec.Amount, &rec.Status, &rec.IsRated, &rec.Rating, &rec.CreatedAt)
	if err != nil {
		return models.RideRecord{}, err
	}
	rec.ProviderID = provider.String
	return rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
