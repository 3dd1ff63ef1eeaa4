// Package journal persists cross-chain swap records in Postgres so open
// swaps survive a process restart.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	_ "github.com/lib/pq"

	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/config"
	"github.com/chainswap/swap-engine/pkg/coordinator"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

const schema = `
CREATE TABLE IF NOT EXISTS swaps (
	id               TEXT PRIMARY KEY,
	user_id          BIGINT NOT NULL,
	from_family      TEXT NOT NULL DEFAULT '',
	wallet_index     BIGINT NOT NULL DEFAULT 0,
	from_chain       TEXT NOT NULL,
	to_chain         TEXT NOT NULL,
	from_symbol      TEXT NOT NULL,
	to_symbol        TEXT NOT NULL,
	send_amount      TEXT NOT NULL,
	receive_amount   TEXT NOT NULL,
	secret_hash      TEXT NOT NULL,
	sealed_secret    TEXT NOT NULL,
	order_id         TEXT NOT NULL,
	deposit_address  TEXT NOT NULL DEFAULT '',
	timelock         TIMESTAMPTZ NOT NULL,
	state            TEXT NOT NULL,
	initiate_tx_hash TEXT NOT NULL DEFAULT '',
	redeem_tx_hash   TEXT NOT NULL DEFAULT '',
	refund_tx_hash   TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS swaps_state_idx ON swaps (state);
`

// Store is a Postgres-backed swap journal
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the schema exists
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records a freshly created swap. The secret is stored sealed, never
// in the clear.
func (s *Store) Insert(ctx context.Context, sw *coordinator.Swap, sealedSecret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swaps (
			id, user_id, from_family, wallet_index, from_chain, to_chain,
			from_symbol, to_symbol, send_amount, receive_amount, secret_hash,
			sealed_secret, order_id, timelock, state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		sw.ID, sw.UserID, string(sw.FromFamily), sw.WalletIndex,
		sw.FromChain, sw.ToChain,
		sw.FromAsset.Symbol, sw.ToAsset.Symbol,
		sw.SendAmount.String(), sw.ReceiveAmount.String(),
		hex.EncodeToString(sw.SecretHash[:]), sealedSecret,
		sw.OrderID, sw.Timelock, string(sw.State), sw.CreatedAt, sw.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert swap %s: %w", sw.ID, err)
	}
	return nil
}

// UpdateState writes the swap's current state, deposit address and settlement
// transaction hashes
func (s *Store) UpdateState(ctx context.Context, sw *coordinator.Swap) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE swaps SET
			state = $2, deposit_address = $3, initiate_tx_hash = $4,
			redeem_tx_hash = $5, refund_tx_hash = $6, updated_at = $7
		WHERE id = $1`,
		sw.ID, string(sw.State), sw.DepositAddress, sw.InitiateTxHash,
		sw.RedeemTxHash, sw.RefundTxHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update swap %s: %w", sw.ID, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("swap %s not found", sw.ID)
	}
	return nil
}

// LoadOpen returns the swaps the settlement loop still owes action to,
// together with their sealed secrets, oldest first
func (s *Store) LoadOpen(ctx context.Context) ([]coordinator.StoredSwap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, from_family, wallet_index, from_chain, to_chain,
			from_symbol, to_symbol, send_amount, receive_amount, secret_hash,
			sealed_secret, order_id, deposit_address, timelock, state,
			initiate_tx_hash, redeem_tx_hash, refund_tx_hash,
			created_at, updated_at
		FROM swaps
		WHERE state NOT IN ($1, $2, $3)
		ORDER BY created_at`,
		string(coordinator.StateComplete),
		string(coordinator.StateRefunded),
		string(coordinator.StateErrored))
	if err != nil {
		return nil, fmt.Errorf("failed to list open swaps: %w", err)
	}
	defer rows.Close()

	var stored []coordinator.StoredSwap
	for rows.Next() {
		rec, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		stored = append(stored, rec)
	}
	return stored, rows.Err()
}

func scanSwap(rows *sql.Rows) (coordinator.StoredSwap, error) {
	var (
		sw                                 coordinator.Swap
		family, sendAmt, recvAmt, hashHex  string
		fromSymbol, toSymbol, sealed, stat string
	)
	err := rows.Scan(&sw.ID, &sw.UserID, &family, &sw.WalletIndex,
		&sw.FromChain, &sw.ToChain, &fromSymbol, &toSymbol,
		&sendAmt, &recvAmt, &hashHex, &sealed, &sw.OrderID,
		&sw.DepositAddress, &sw.Timelock, &stat,
		&sw.InitiateTxHash, &sw.RedeemTxHash, &sw.RefundTxHash,
		&sw.CreatedAt, &sw.UpdatedAt)
	if err != nil {
		return coordinator.StoredSwap{}, fmt.Errorf("failed to scan swap row: %w", err)
	}

	sw.FromFamily = wallet.ChainFamily(family)
	sw.FromAsset = asset.Asset{Symbol: fromSymbol}
	sw.ToAsset = asset.Asset{Symbol: toSymbol}
	sw.State = coordinator.SwapState(stat)

	var ok bool
	if sw.SendAmount, ok = new(big.Int).SetString(sendAmt, 10); !ok {
		return coordinator.StoredSwap{}, fmt.Errorf("swap %s has malformed send amount %q", sw.ID, sendAmt)
	}
	if sw.ReceiveAmount, ok = new(big.Int).SetString(recvAmt, 10); !ok {
		return coordinator.StoredSwap{}, fmt.Errorf("swap %s has malformed receive amount %q", sw.ID, recvAmt)
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil || len(hash) != len(sw.SecretHash) {
		return coordinator.StoredSwap{}, fmt.Errorf("swap %s has malformed secret hash %q", sw.ID, hashHex)
	}
	copy(sw.SecretHash[:], hash)

	return coordinator.StoredSwap{Swap: &sw, SealedSecret: sealed}, nil
}
