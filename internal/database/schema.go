package database

import (
	"context"
	"fmt"
)

// Schema DDL, applied in order by Migrate. Statements are idempotent so
// migrate can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		symbol VARCHAR(16) NOT NULL,
		name VARCHAR(64) NOT NULL,
		market VARCHAR(8) NOT NULL,
		exchange VARCHAR(16),
		industry_l1 VARCHAR(64),
		industry_l2 VARCHAR(64),
		list_date DATE,
		delist_date DATE,
		currency VARCHAR(8) NOT NULL DEFAULT 'CNY',
		lot_size INT NOT NULL DEFAULT 100,
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		is_st BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol),
		INDEX idx_stocks_market (market, status),
		INDEX idx_stocks_status (status)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS trading_calendar (
		date DATE NOT NULL,
		market VARCHAR(8) NOT NULL,
		is_trading BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (date, market),
		INDEX idx_trading_calendar_market_date (market, date DESC)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS market_data (
		symbol VARCHAR(16) NOT NULL,
		date DATE NOT NULL,
		frequency VARCHAR(8) NOT NULL DEFAULT '1d',
		open DOUBLE NOT NULL,
		high DOUBLE NOT NULL,
		low DOUBLE NOT NULL,
		close DOUBLE NOT NULL,
		volume DOUBLE NOT NULL,
		amount DOUBLE,
		prev_close DOUBLE,
		change_amount DOUBLE NOT NULL DEFAULT 0,
		change_percent DOUBLE NOT NULL DEFAULT 0,
		amplitude DOUBLE NOT NULL DEFAULT 0,
		high_limit DOUBLE,
		low_limit DOUBLE,
		is_limit_up BOOLEAN NOT NULL DEFAULT FALSE,
		is_limit_down BOOLEAN NOT NULL DEFAULT FALSE,
		turnover_rate DOUBLE,
		source VARCHAR(32) NOT NULL,
		quality_score INT NOT NULL DEFAULT 100,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, date, frequency),
		INDEX idx_market_data_date_freq (date DESC, frequency),
		INDEX idx_market_data_symbol_freq (symbol, frequency, date DESC)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS valuations (
		symbol VARCHAR(16) NOT NULL,
		date DATE NOT NULL,
		pe_ratio DOUBLE,
		pb_ratio DOUBLE,
		ps_ratio DOUBLE,
		pcf_ratio DOUBLE,
		market_cap DOUBLE,
		circulating_cap DOUBLE,
		source VARCHAR(32) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, date),
		INDEX idx_valuations_date (date DESC)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS financials (
		symbol VARCHAR(16) NOT NULL,
		report_date DATE NOT NULL,
		report_type VARCHAR(8) NOT NULL,
		revenue DOUBLE,
		operating_profit DOUBLE,
		net_profit DOUBLE,
		total_assets DOUBLE,
		total_liabilities DOUBLE,
		shareholders_equity DOUBLE,
		operating_cash_flow DOUBLE,
		eps DOUBLE,
		bps DOUBLE,
		roe DOUBLE,
		roa DOUBLE,
		debt_ratio DOUBLE,
		source VARCHAR(32) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, report_date, report_type),
		INDEX idx_financials_report_date (report_date DESC, report_type)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS corporate_actions (
		symbol VARCHAR(16) NOT NULL,
		ex_date DATE NOT NULL,
		record_date DATE,
		cash_dividend DOUBLE NOT NULL DEFAULT 0,
		stock_dividend DOUBLE NOT NULL DEFAULT 0,
		rights_ratio DOUBLE NOT NULL DEFAULT 0,
		rights_price DOUBLE NOT NULL DEFAULT 0,
		split_ratio DOUBLE NOT NULL DEFAULT 1,
		adj_factor DOUBLE NOT NULL DEFAULT 1,
		source VARCHAR(32) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, ex_date)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS sync_status (
		symbol VARCHAR(16) NOT NULL,
		frequency VARCHAR(8) NOT NULL,
		last_sync_date DATE,
		last_data_date DATE,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		message TEXT,
		total_records INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, frequency),
		INDEX idx_sync_status_status (status)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS extended_sync_status (
		symbol VARCHAR(16) NOT NULL,
		sync_type VARCHAR(16) NOT NULL,
		target_date DATE NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		reason TEXT,
		session_id VARCHAR(36),
		records_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, sync_type, target_date),
		INDEX idx_extended_sync_target_status (target_date, status),
		INDEX idx_extended_sync_session (session_id, updated_at DESC)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS quarter_sync_progress (
		year INT NOT NULL,
		quarter INT NOT NULL,
		completed_at TIMESTAMP NULL,
		record_count INT NOT NULL DEFAULT 0,
		source_fingerprint VARCHAR(128) NOT NULL DEFAULT '',
		PRIMARY KEY (year, quarter)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS system_config (
		config_key VARCHAR(64) NOT NULL,
		config_value TEXT,
		description VARCHAR(255),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (config_key)
	) ENGINE=InnoDB`,
}

// Migrate creates the schema. Safe to run on every start.
func (mc *MySQLClient) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := mc.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	mc.logger.WithField("statements", len(schemaStatements)).Info("Schema migration completed")
	return nil
}

// GetSystemConfig retrieves one configuration value, empty if unset.
func (mc *MySQLClient) GetSystemConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := mc.db.QueryRowContext(ctx,
		`SELECT config_value FROM system_config WHERE config_key = ?`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system config: %w", err)
	}
	return value, nil
}

// SetSystemConfig sets a system configuration value
func (mc *MySQLClient) SetSystemConfig(ctx context.Context, key, value, description string) error {
	query := `
		INSERT INTO system_config (config_key, config_value, description)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			config_value = VALUES(config_value),
			description = VALUES(description),
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := mc.db.ExecContext(ctx, query, key, value, description); err != nil {
		return fmt.Errorf("failed to set system config: %w", err)
	}

	return nil
}
