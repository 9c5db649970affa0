package archive

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ridepulse/internal/models"
)

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) SaveRide(ctx context.Context, s models.RideSummary) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_history(code, host_id, member_count, started_at, ended_at) VALUES($1,$2,$3,$4,$5)`,
		s.Code, s.HostID, s.MemberCount, s.StartedAt, s.EndedAt)
	return err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
