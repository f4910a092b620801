package migrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

func init() {
	goose.AddMigrationContext(upAttachmentsCbor, downAttachmentsCbor)
}

// Early deployments stored attachment URL lists as a JSONB array. The column
// is write-once and never queried, so it was moved to a CBOR blob. Re-encode
// any rows still carrying JSON.
func upAttachmentsCbor(ctx context.Context, tx *sql.Tx) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'agape_messages' AND column_name = 'attachments_json'
		)
	`).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		// fresh install, nothing to convert
		return nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT message_id, attachments_json FROM agape_messages WHERE attachments_json IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to select legacy attachments: %w", err)
	}
	defer rows.Close()

	converted := map[int64][]byte{}
	for rows.Next() {
		var id int64
		var urls []string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("failed to scan legacy attachment row: %w", err)
		}
		if err := json.Unmarshal(raw, &urls); err != nil {
			return fmt.Errorf("message %d has malformed attachments: %w", id, err)
		}
		blob, err := cbor.Marshal(urls)
		if err != nil {
			return err
		}
		converted[id] = blob
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for id, blob := range converted {
		if _, err := tx.ExecContext(ctx, `UPDATE agape_messages SET attachments=$1 WHERE message_id=$2`, blob, id); err != nil {
			return fmt.Errorf("failed to write cbor attachments for message %d: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE agape_messages DROP COLUMN attachments_json`); err != nil {
		return err
	}
	log.Info().Msgf("Converted %d attachment lists to CBOR", len(converted))
	return nil
}

func downAttachmentsCbor(ctx context.Context, tx *sql.Tx) error {
	// No-op: the blob column stays readable either way.
	return nil
}
