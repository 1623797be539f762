package sqlstore

import "strings"

const defaultTable = "pipeline_checkpoints"

const (
	columns = `id, execution_id, pipeline_name, step_index, step_id, step_name, state_data, state_type,
		checkpoint_status, error_message, created_at, correlation_id, metadata`

	schemaCheckpoints = `
		CREATE TABLE IF NOT EXISTS {table} (
			id                TEXT PRIMARY KEY,
			execution_id      TEXT,
			pipeline_name     TEXT,
			step_index        BIGINT,
			step_id           TEXT,
			step_name         TEXT,
			state_data        TEXT,
			state_type        TEXT,
			checkpoint_status TEXT,
			error_message     TEXT,
			created_at        BIGINT,
			correlation_id    TEXT,
			metadata          TEXT
		)`

	queryByID = `SELECT ` + columns + ` FROM {table} WHERE id = $1`

	queryByExecution = `SELECT ` + columns + ` FROM {table} WHERE execution_id = $1`

	queryByStatus = `SELECT ` + columns + ` FROM {table} WHERE checkpoint_status = $1`

	queryExpiredIDs = `SELECT id FROM {table} WHERE created_at < $1`

	stmtInsert = `INSERT INTO {table} (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	stmtUpdate = `UPDATE {table} SET execution_id = $1, pipeline_name = $2, step_index = $3, step_id = $4,
		step_name = $5, state_data = $6, state_type = $7, checkpoint_status = $8, error_message = $9,
		created_at = $10, correlation_id = $11, metadata = $12
		WHERE id = $13`

	stmtUpdateStatus = `UPDATE {table} SET checkpoint_status = $1, error_message = $2 WHERE id = $3`

	stmtClaim = `UPDATE {table} SET checkpoint_status = $1 WHERE id = $2 AND checkpoint_status = $3`

	stmtDelete = `DELETE FROM {table} WHERE id = $1`

	stmtDeleteExecution = `DELETE FROM {table} WHERE execution_id = $1`
)

type queries struct {
	schema          string
	byID            string
	byExecution     string
	byStatus        string
	expiredIDs      string
	insert          string
	update          string
	updateStatus    string
	claim           string
	deleteOne       string
	deleteExecution string
}

func newQueries(table string) queries {
	r := strings.NewReplacer("{table}", table)

	return queries{
		schema:          r.Replace(schemaCheckpoints),
		byID:            r.Replace(queryByID),
		byExecution:     r.Replace(queryByExecution),
		byStatus:        r.Replace(queryByStatus),
		expiredIDs:      r.Replace(queryExpiredIDs),
		insert:          r.Replace(stmtInsert),
		update:          r.Replace(stmtUpdate),
		updateStatus:    r.Replace(stmtUpdateStatus),
		claim:           r.Replace(stmtClaim),
		deleteOne:       r.Replace(stmtDelete),
		deleteExecution: r.Replace(stmtDeleteExecution),
	}
}
