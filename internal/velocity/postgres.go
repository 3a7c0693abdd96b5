package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banking/fraud-service/internal/domain"
)

// PostgresHistory reads the transaction-history table maintained by the
// payment execution service. The fraud engine only ever reads it.
type PostgresHistory struct {
	db *pgxpool.Pool
}

var _ HistorySource = (*PostgresHistory)(nil)

// NewPostgresHistory creates a Postgres-backed history source
func NewPostgresHistory(db *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// TransactionsSince returns the user's transactions newer than the cutoff
func (h *PostgresHistory) TransactionsSince(ctx context.Context, userID string, since time.Time) ([]domain.HistoricalTransaction, error) {
	query := `
		SELECT id, user_id, tx_type, amount, currency, created_at
		FROM transactions
		WHERE user_id = $1 AND created_at > $2
		ORDER BY created_at DESC
	`

	rows, err := h.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("transaction history query: %w", err)
	}
	defer rows.Close()

	txs := make([]domain.HistoricalTransaction, 0)
	for rows.Next() {
		var tx domain.HistoricalTransaction
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Type,
			&tx.Amount,
			&tx.Currency,
			&tx.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("transaction history scan: %w", err)
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}
