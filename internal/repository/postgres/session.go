package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/luisreales/techprep-sub000/internal/domain"
)

// --- Sessions ---

type sessionRepo struct {
	q querier
}

const sessionColumns = `id, user_id, assignment_id, template_id, kind, status, question_ids, current_index, attempt,
	started_at, paused_at, paused_seconds, submitted_at, finalized_at, total_time_seconds, correct_count,
	total_questions, score`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Create depende do índice único parcial de sessões abertas para serializar
// inícios concorrentes do mesmo (usuário, assignment)
func (r sessionRepo) Create(s domain.Session) error {
	ids, _ := json.Marshal(s.QuestionIDs)
	_, err := r.q.Exec(`INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.UserID, s.AssignmentID, s.TemplateID, s.Kind, s.Status, ids, s.CurrentIndex, s.Attempt,
		s.StartedAt, nullTime(s.PausedAt), s.PausedSeconds, nullTime(s.SubmittedAt), nullTime(s.FinalizedAt),
		s.TotalTimeSeconds, s.CorrectCount, s.TotalQuestions, s.Score)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func scanSession(row rowScanner) (domain.Session, error) {
	var s domain.Session
	var ids []byte
	var pausedAt, submittedAt, finalizedAt sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.AssignmentID, &s.TemplateID, &s.Kind, &s.Status, &ids, &s.CurrentIndex,
		&s.Attempt, &s.StartedAt, &pausedAt, &s.PausedSeconds, &submittedAt, &finalizedAt, &s.TotalTimeSeconds,
		&s.CorrectCount, &s.TotalQuestions, &s.Score)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(ids, &s.QuestionIDs); err != nil {
		return s, fmt.Errorf("decode question ids of session %s: %w", s.ID, err)
	}
	s.PausedAt, s.SubmittedAt, s.FinalizedAt = timePtr(pausedAt), timePtr(submittedAt), timePtr(finalizedAt)
	return s, nil
}

func (r sessionRepo) withAnswers(s domain.Session) (domain.Session, error) {
	rows, err := r.q.Query(`SELECT id, session_id, question_id, selected_option_ids, text, is_correct, match_percent,
		elapsed_seconds, answered_at, evaluated_at FROM session_answers WHERE session_id=$1 ORDER BY answered_at`, s.ID)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	s.Answers = []domain.Answer{}
	for rows.Next() {
		var a domain.Answer
		var selected []byte
		var isCorrect sql.NullBool
		var match sql.NullFloat64
		var evaluatedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &selected, &a.Text, &isCorrect, &match,
			&a.ElapsedSeconds, &a.AnsweredAt, &evaluatedAt); err != nil {
			return s, err
		}
		if a.SelectedOptionIDs, err = decodeOptionIDs(a.ID, selected); err != nil {
			return s, err
		}
		if isCorrect.Valid {
			v := isCorrect.Bool
			a.IsCorrect = &v
		}
		if match.Valid {
			v := match.Float64
			a.MatchPercent = &v
		}
		a.EvaluatedAt = timePtr(evaluatedAt)
		s.Answers = append(s.Answers, a)
	}
	return s, rows.Err()
}

// decodeOptionIDs lê a coluna JSON; valor corrompido é erro, nunca seleção vazia
func decodeOptionIDs(answerID string, raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode selected options of answer %s: %w", answerID, err)
	}
	return ids, nil
}

func (r sessionRepo) GetByID(id string) (domain.Session, error) {
	s, err := scanSession(r.q.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, id))
	if err != nil {
		return s, notFound(err)
	}
	return r.withAnswers(s)
}

func (r sessionRepo) FindOpen(userID, assignmentID string) (domain.Session, error) {
	s, err := scanSession(r.q.QueryRow(`SELECT `+sessionColumns+` FROM sessions
		WHERE user_id=$1 AND assignment_id=$2 AND status IN ('active', 'paused')`, userID, assignmentID))
	if err != nil {
		return s, notFound(err)
	}
	return r.withAnswers(s)
}

func (r sessionRepo) ListByUserAssignment(userID, assignmentID string) ([]domain.Session, error) {
	rows, err := r.q.Query(`SELECT `+sessionColumns+` FROM sessions
		WHERE user_id=$1 AND assignment_id=$2 ORDER BY attempt`, userID, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Update grava apenas a linha da sessão; respostas passam por SaveAnswer.
// Com from, o UPDATE só vale se o status gravado ainda for um deles.
func (r sessionRepo) Update(s domain.Session, from ...domain.SessionStatus) error {
	ids, err := json.Marshal(s.QuestionIDs)
	if err != nil {
		return fmt.Errorf("encode question ids of session %s: %w", s.ID, err)
	}
	query := `UPDATE sessions SET status=$2, question_ids=$3, current_index=$4, paused_at=$5,
		paused_seconds=$6, submitted_at=$7, finalized_at=$8, total_time_seconds=$9, correct_count=$10,
		total_questions=$11, score=$12 WHERE id=$1`
	args := []any{s.ID, s.Status, ids, s.CurrentIndex, nullTime(s.PausedAt), s.PausedSeconds, nullTime(s.SubmittedAt),
		nullTime(s.FinalizedAt), s.TotalTimeSeconds, s.CorrectCount, s.TotalQuestions, s.Score}
	if len(from) > 0 {
		statuses := make([]string, len(from))
		for i, st := range from {
			statuses[i] = string(st)
		}
		query += ` AND status = ANY($13)`
		args = append(args, pq.Array(statuses))
	}

	res, err := r.q.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if len(from) == 0 {
		return domain.ErrNotFound
	}
	var exists bool
	if err := r.q.QueryRow(`SELECT EXISTS (SELECT 1 FROM sessions WHERE id=$1)`, s.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrStatusChanged
}

func (r sessionRepo) SaveAnswer(a domain.Answer) error {
	selected, _ := json.Marshal(a.SelectedOptionIDs)
	var isCorrect sql.NullBool
	if a.IsCorrect != nil {
		isCorrect = sql.NullBool{Bool: *a.IsCorrect, Valid: true}
	}
	var match sql.NullFloat64
	if a.MatchPercent != nil {
		match = sql.NullFloat64{Float64: *a.MatchPercent, Valid: true}
	}
	_, err := r.q.Exec(`INSERT INTO session_answers (id, session_id, question_id, selected_option_ids, text, is_correct,
		match_percent, elapsed_seconds, answered_at, evaluated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id, question_id) DO UPDATE SET
			selected_option_ids=$4,
			text=$5,
			is_correct=$6,
			match_percent=$7,
			elapsed_seconds=$8,
			answered_at=$9,
			evaluated_at=$10`,
		a.ID, a.SessionID, a.QuestionID, selected, a.Text, isCorrect, match, a.ElapsedSeconds, a.AnsweredAt,
		nullTime(a.EvaluatedAt))
	return err
}

// --- Ledger ---

type ledgerRepo struct {
	q    querier
	inTx bool
}

func (r ledgerRepo) Append(e domain.CreditLedgerEntry) error {
	_, err := r.q.Exec(`INSERT INTO credit_ledger (id, user_id, amount, type, description, expires_at, session_id,
		balance_after, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, e.Amount, e.Type, e.Description, nullTime(e.ExpiresAt), nullString(e.SessionID),
		e.BalanceAfter, e.CreatedAt)
	return err
}

func (r ledgerRepo) ListByUser(userID string) ([]domain.CreditLedgerEntry, error) {
	rows, err := r.q.Query(`SELECT id, user_id, amount, type, description, expires_at, session_id, balance_after, created_at
		FROM credit_ledger WHERE user_id=$1 ORDER BY created_at DESC, seq DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.CreditLedgerEntry
	for rows.Next() {
		var e domain.CreditLedgerEntry
		var expiresAt sql.NullTime
		var sessionID sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Type, &e.Description, &expiresAt, &sessionID,
			&e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ExpiresAt = timePtr(expiresAt)
		e.SessionID = sessionID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Lock pega um advisory lock do ledger do usuário com escopo de transação.
// Fora de transação não há o que segurar o lock, então é ignorado.
func (r ledgerRepo) Lock(userID string) error {
	if !r.inTx {
		return nil
	}
	_, err := r.q.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}

// --- Certificates ---

type certificateRepo struct {
	q querier
}

func (r certificateRepo) Create(c domain.Certificate) error {
	_, err := r.q.Exec(`INSERT INTO certificates (id, session_id, user_id, template_id, score, duration_seconds,
		token_hash, issued_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.SessionID, c.UserID, c.TemplateID, c.Score, c.DurationSeconds, c.TokenHash, c.IssuedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

const certificateColumns = `id, session_id, user_id, template_id, score, duration_seconds, token_hash, issued_at,
	revoked_at, revoke_reason`

func scanCertificate(row rowScanner) (domain.Certificate, error) {
	var c domain.Certificate
	var revokedAt sql.NullTime
	var reason sql.NullString
	err := row.Scan(&c.ID, &c.SessionID, &c.UserID, &c.TemplateID, &c.Score, &c.DurationSeconds, &c.TokenHash,
		&c.IssuedAt, &revokedAt, &reason)
	if err != nil {
		return c, notFound(err)
	}
	c.RevokedAt = timePtr(revokedAt)
	c.RevokeReason = reason.String
	return c, nil
}

func (r certificateRepo) GetByID(id string) (domain.Certificate, error) {
	return scanCertificate(r.q.QueryRow(`SELECT `+certificateColumns+` FROM certificates WHERE id=$1`, id))
}

func (r certificateRepo) GetBySession(sessionID string) (domain.Certificate, error) {
	return scanCertificate(r.q.QueryRow(`SELECT `+certificateColumns+` FROM certificates WHERE session_id=$1`, sessionID))
}

func (r certificateRepo) Revoke(id string, at time.Time, reason string) error {
	res, err := r.q.Exec(`UPDATE certificates SET revoked_at=$2, revoke_reason=$3 WHERE id=$1 AND revoked_at IS NULL`,
		id, at, reason)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
