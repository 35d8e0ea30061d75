package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// SaveRun upserts a run and all of its agent states in one transaction.
func (db *DB) SaveRun(run *models.Run) error {
	agentOrder, err := json.Marshal(nonNilStrings(run.AgentOrder))
	if err != nil {
		return fmt.Errorf("encode agent order: %w", err)
	}
	exitCodes, err := marshalOptional(run.ExitCodes, len(run.ExitCodes) == 0)
	if err != nil {
		return fmt.Errorf("encode exit codes: %w", err)
	}
	resultRefs, err := marshalOptional(run.ResultRefs, len(run.ResultRefs) == 0)
	if err != nil {
		return fmt.Errorf("encode result refs: %w", err)
	}
	cleanup, err := marshalOptional(run.Cleanup, run.Cleanup == nil)
	if err != nil {
		return fmt.Errorf("encode cleanup report: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, task, base_branch, original_branch, isolation, status,
				agent_order, exit_codes, result_refs, cleanup, pid, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				agent_order = excluded.agent_order,
				exit_codes = excluded.exit_codes,
				result_refs = excluded.result_refs,
				cleanup = excluded.cleanup,
				pid = excluded.pid,
				completed_at = excluded.completed_at
		`, run.ID, run.Task, run.BaseBranch, run.OriginalBranch, string(run.Isolation), string(run.Status),
			string(agentOrder), exitCodes, resultRefs, cleanup, run.PID,
			formatTime(run.StartedAt), nullableTime(run.CompletedAt))
		if err != nil {
			return fmt.Errorf("save run %s: %w", run.ID, err)
		}

		for _, id := range run.AgentOrder {
			agent, ok := run.Agents[id]
			if !ok {
				continue
			}
			if err := saveAgentState(tx, run.ID, agent); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveAgentState upserts one agent's state.
func (db *DB) SaveAgentState(runID string, agent *models.AgentState) error {
	return db.Transaction(func(tx *sql.Tx) error {
		return saveAgentState(tx, runID, agent)
	})
}

func saveAgentState(tx *sql.Tx, runID string, a *models.AgentState) error {
	keyFiles, err := json.Marshal(nonNilStrings(a.KeyFilePaths))
	if err != nil {
		return fmt.Errorf("encode key files: %w", err)
	}
	committed, err := json.Marshal(nonNilStrings(a.CommittedFiles))
	if err != nil {
		return fmt.Errorf("encode committed files: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO agent_states (run_id, agent_id, branch_name, status, message, result_summary,
			key_file_paths, committed_files, error_message, error_details, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, agent_id) DO UPDATE SET
			branch_name = excluded.branch_name,
			status = excluded.status,
			message = excluded.message,
			result_summary = excluded.result_summary,
			key_file_paths = excluded.key_file_paths,
			committed_files = excluded.committed_files,
			error_message = excluded.error_message,
			error_details = excluded.error_details,
			updated_at = excluded.updated_at
	`, runID, a.AgentID, a.BranchName, string(a.Status), a.Message, a.ResultSummary,
		string(keyFiles), string(committed), a.ErrorMessage, a.ErrorDetails, formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save agent %s of run %s: %w", a.AgentID, runID, err)
	}
	return nil
}

const selectRun = `
	SELECT id, task, base_branch, original_branch, isolation, status, agent_order,
		exit_codes, result_refs, cleanup, pid, started_at, completed_at
	FROM runs`

// GetRun retrieves a run and its agent states. It returns nil, nil when the
// run does not exist.
func (db *DB) GetRun(id string) (*models.Run, error) {
	row := db.QueryRow(selectRun+" WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if err := db.loadAgents(run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first. A limit of 0 returns every run.
func (db *DB) ListRuns(limit int) ([]*models.Run, error) {
	query := selectRun + " ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()

	for _, run := range runs {
		if err := db.loadAgents(run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteRun removes a run and its agent states.
func (db *DB) DeleteRun(id string) error {
	if _, err := db.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		run                            models.Run
		isolation, status, agentOrder  string
		exitCodes, resultRefs, cleanup sql.NullString
		startedAt                      string
		completedAt                    sql.NullString
	)
	err := s.Scan(&run.ID, &run.Task, &run.BaseBranch, &run.OriginalBranch, &isolation, &status,
		&agentOrder, &exitCodes, &resultRefs, &cleanup, &run.PID, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.Isolation = models.IsolationMode(isolation)
	run.Status = models.RunStatus(status)
	run.StartedAt, _ = parseTime(startedAt)
	run.CompletedAt = parseNullableTime(completedAt)

	if err := json.Unmarshal([]byte(agentOrder), &run.AgentOrder); err != nil {
		return nil, fmt.Errorf("decode agent order: %w", err)
	}
	if exitCodes.Valid {
		if err := json.Unmarshal([]byte(exitCodes.String), &run.ExitCodes); err != nil {
			return nil, fmt.Errorf("decode exit codes: %w", err)
		}
	}
	if resultRefs.Valid {
		if err := json.Unmarshal([]byte(resultRefs.String), &run.ResultRefs); err != nil {
			return nil, fmt.Errorf("decode result refs: %w", err)
		}
	}
	if cleanup.Valid {
		run.Cleanup = &models.CleanupReport{}
		if err := json.Unmarshal([]byte(cleanup.String), run.Cleanup); err != nil {
			return nil, fmt.Errorf("decode cleanup report: %w", err)
		}
	}
	run.Agents = make(map[string]*models.AgentState)
	return &run, nil
}

func (db *DB) loadAgents(run *models.Run) error {
	rows, err := db.Query(`
		SELECT agent_id, branch_name, status, message, result_summary, key_file_paths,
			committed_files, error_message, error_details, updated_at
		FROM agent_states WHERE run_id = ?
	`, run.ID)
	if err != nil {
		return fmt.Errorf("load agents of run %s: %w", run.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a                   models.AgentState
			status              string
			keyFiles, committed string
			updatedAt           string
		)
		if err := rows.Scan(&a.AgentID, &a.BranchName, &status, &a.Message, &a.ResultSummary,
			&keyFiles, &committed, &a.ErrorMessage, &a.ErrorDetails, &updatedAt); err != nil {
			return fmt.Errorf("scan agent state: %w", err)
		}
		a.Status = models.AgentRunStatus(status)
		a.UpdatedAt, _ = parseTime(updatedAt)
		if err := json.Unmarshal([]byte(keyFiles), &a.KeyFilePaths); err != nil {
			return fmt.Errorf("decode key files: %w", err)
		}
		if err := json.Unmarshal([]byte(committed), &a.CommittedFiles); err != nil {
			return fmt.Errorf("decode committed files: %w", err)
		}
		run.Agents[a.AgentID] = &a
	}
	return rows.Err()
}

// marshalOptional encodes v as JSON, or returns nil (SQL NULL) when empty.
func marshalOptional(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
