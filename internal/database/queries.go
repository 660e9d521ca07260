package database

// Centralized SQL statements, named after the operation they serve.
const (
	queryGetAccountBalance = `
		SELECT id, balance, version FROM account_balances
		WHERE wallet_id = ? AND currency = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, wallet_id, currency, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_entry_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE wallet_id = ? AND currency = ? AND version = ?`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries
			(id, wallet_id, currency, entry_type, amount, balance_before, balance_after, description, reference_tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryCheckReversal = `
		SELECT id FROM ledger_entries
		WHERE reference_tx_id = ? AND entry_type = 'reversal'
		LIMIT 1`

	queryUpsertTransactionStatus = `
		INSERT INTO transaction_status (tx_id, status, error_message, completed_at, failed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			completed_at = excluded.completed_at,
			failed_at = excluded.failed_at,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP`

	queryGetTransactionStatus = `
		SELECT status FROM transaction_status WHERE tx_id = ?`

	queryInsertTransfer = `
		INSERT INTO blockchain_transfers
			(transaction_id, wallet_id, network, currency, amount, from_address, to_address, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryReopenFailedTransfer = `
		UPDATE blockchain_transfers
		SET status = 'PENDING', failure_reason = NULL, check_attempts = 0,
			confirmations = 0, updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'FAILED'
			AND (tx_hash IS NULL OR tx_hash = '')`

	queryAttachTxHash = `
		UPDATE blockchain_transfers
		SET tx_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'PENDING'`

	queryGetTransfer = `
		SELECT transaction_id, wallet_id, network, currency, amount, from_address, to_address,
			status, tx_hash, confirmations, check_attempts,
			last_checked_at, failure_reason, created_at, updated_at
		FROM blockchain_transfers
		WHERE transaction_id = ?`

	queryPendingTransfers = `
		SELECT transaction_id, wallet_id, network, currency, amount, from_address, to_address,
			status, tx_hash, confirmations, check_attempts,
			last_checked_at, failure_reason, created_at, updated_at
		FROM blockchain_transfers
		WHERE status = 'PENDING' AND network = ?
		ORDER BY created_at ASC`

	queryRecordCheck = `
		UPDATE blockchain_transfers
		SET check_attempts = ?, confirmations = ?, last_checked_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'PENDING'`

	queryMarkConfirmed = `
		UPDATE blockchain_transfers
		SET status = 'CONFIRMED', confirmations = ?, updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'PENDING'`

	queryFailedTransfersByReason = `
		SELECT transaction_id, wallet_id, network, currency, amount, from_address, to_address,
			status, tx_hash, confirmations, check_attempts,
			last_checked_at, failure_reason, created_at, updated_at
		FROM blockchain_transfers
		WHERE status = 'FAILED' AND network = ? AND failure_reason = ?
			AND tx_hash IS NOT NULL AND tx_hash != ''
		ORDER BY created_at ASC`

	queryMarkFailed = `
		UPDATE blockchain_transfers
		SET status = 'FAILED', failure_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'PENDING'`
)
