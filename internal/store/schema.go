// schema.go declares the relational layout and the indexes backing the hot
// read paths: depth by (pool, side, price), klines by (pool, interval,
// open_time), user orders by (user, pool, status), tickers by timestamp.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	id              TEXT PRIMARY KEY,
	chain_id        BIGINT NOT NULL,
	address         TEXT NOT NULL,
	order_book      TEXT NOT NULL DEFAULT '',
	base_currency   TEXT NOT NULL,
	quote_currency  TEXT NOT NULL,
	base_symbol     TEXT NOT NULL,
	quote_symbol    TEXT NOT NULL,
	base_decimals   INT NOT NULL,
	quote_decimals  INT NOT NULL,
	volume          NUMERIC NOT NULL DEFAULT 0,
	volume_in_quote NUMERIC NOT NULL DEFAULT 0,
	last_price      NUMERIC(78,0),
	last_update_ts  BIGINT NOT NULL DEFAULT 0,
	UNIQUE (chain_id, address)
);
CREATE INDEX IF NOT EXISTS idx_pools_symbol
	ON pools (chain_id, base_symbol, quote_symbol);

CREATE TABLE IF NOT EXISTS currencies (
	id        TEXT PRIMARY KEY,
	chain_id  BIGINT NOT NULL,
	address   TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	decimals  INT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (chain_id, address)
);

CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	chain_id       BIGINT NOT NULL,
	pool_address   TEXT NOT NULL,
	order_id       NUMERIC(20,0) NOT NULL,
	"user"         TEXT NOT NULL,
	side           TEXT NOT NULL,
	order_type     TEXT NOT NULL,
	price          NUMERIC(78,0) NOT NULL,
	quantity       NUMERIC(78,0) NOT NULL,
	filled         NUMERIC(78,0) NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	expiry         BIGINT NOT NULL DEFAULT 0,
	created_ts     BIGINT NOT NULL,
	last_update_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user
	ON orders ("user", pool_address, status);

CREATE TABLE IF NOT EXISTS order_history (
	id           TEXT PRIMARY KEY,
	chain_id     BIGINT NOT NULL,
	pool_address TEXT NOT NULL,
	order_id     NUMERIC(20,0) NOT NULL,
	tx_hash      TEXT NOT NULL,
	"user"       TEXT NOT NULL,
	side         TEXT NOT NULL,
	price        NUMERIC(78,0) NOT NULL,
	quantity     NUMERIC(78,0) NOT NULL,
	filled       NUMERIC(78,0) NOT NULL,
	status       TEXT NOT NULL,
	ts           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_order
	ON order_history (chain_id, pool_address, order_id);

CREATE TABLE IF NOT EXISTS depth_levels (
	pool_address TEXT NOT NULL,
	side         TEXT NOT NULL,
	price        NUMERIC(78,0) NOT NULL,
	quantity     NUMERIC(78,0) NOT NULL,
	order_count  INT NOT NULL,
	last_updated BIGINT NOT NULL,
	PRIMARY KEY (pool_address, side, price)
);

CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	chain_id     BIGINT NOT NULL,
	pool_id      TEXT NOT NULL,
	pool_address TEXT NOT NULL,
	order_id     NUMERIC(20,0) NOT NULL,
	tx_hash      TEXT NOT NULL,
	"user"       TEXT NOT NULL,
	side         TEXT NOT NULL,
	price        NUMERIC(78,0) NOT NULL,
	quantity     NUMERIC(78,0) NOT NULL,
	ts           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_user
	ON trades (chain_id, pool_address, "user", ts);

CREATE TABLE IF NOT EXISTS orderbook_trades (
	id            TEXT PRIMARY KEY,
	chain_id      BIGINT NOT NULL,
	pool_address  TEXT NOT NULL,
	buy_order_id  NUMERIC(20,0) NOT NULL,
	sell_order_id NUMERIC(20,0) NOT NULL,
	taker_side    TEXT NOT NULL,
	price         NUMERIC(78,0) NOT NULL,
	quantity      NUMERIC(78,0) NOT NULL,
	tx_hash       TEXT NOT NULL,
	ts            BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ob_trades_ts
	ON orderbook_trades (chain_id, pool_address, ts);

CREATE TABLE IF NOT EXISTS buckets (
	id                     TEXT PRIMARY KEY,
	chain_id               BIGINT NOT NULL,
	pool_address           TEXT NOT NULL,
	interval_s             BIGINT NOT NULL,
	open_time              BIGINT NOT NULL,
	close_time             BIGINT NOT NULL,
	open                   NUMERIC(78,0) NOT NULL,
	high                   NUMERIC(78,0) NOT NULL,
	low                    NUMERIC(78,0) NOT NULL,
	close                  NUMERIC(78,0) NOT NULL,
	average                NUMERIC NOT NULL,
	count                  BIGINT NOT NULL,
	volume                 NUMERIC NOT NULL,
	quote_volume           NUMERIC NOT NULL,
	taker_buy_base_volume  NUMERIC NOT NULL,
	taker_buy_quote_volume NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_buckets_open_time
	ON buckets (chain_id, pool_address, interval_s, open_time);

CREATE TABLE IF NOT EXISTS balances (
	id           TEXT PRIMARY KEY,
	chain_id     BIGINT NOT NULL,
	"user"       TEXT NOT NULL,
	currency     TEXT NOT NULL,
	available    NUMERIC(78,0) NOT NULL DEFAULT 0,
	locked       NUMERIC(78,0) NOT NULL DEFAULT 0,
	last_updated BIGINT NOT NULL,
	UNIQUE (chain_id, "user", currency)
);
`

// EnsureSchema applies the DDL. Idempotent; called once at startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
