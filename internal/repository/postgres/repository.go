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

// uniqueViolation é o SQLSTATE de conflito em índice único
const uniqueViolation = "23505"

// querier é satisfeito tanto por *sql.DB quanto por *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// --- Base Repository ---
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db}
}

func (r *PostgresRepo) Questions() domain.QuestionRepository       { return questionRepo{q: r.DB} }
func (r *PostgresRepo) Templates() domain.TemplateRepository       { return templateRepo{q: r.DB} }
func (r *PostgresRepo) Assignments() domain.AssignmentRepository   { return assignmentRepo{q: r.DB} }
func (r *PostgresRepo) Sessions() domain.SessionRepository         { return sessionRepo{q: r.DB} }
func (r *PostgresRepo) Ledger() domain.LedgerRepository            { return ledgerRepo{q: r.DB} }
func (r *PostgresRepo) Certificates() domain.CertificateRepository { return certificateRepo{q: r.DB} }
func (r *PostgresRepo) Counter() domain.QuestionCounter            { return questionRepo{q: r.DB} }
func (r *PostgresRepo) Selector() domain.QuestionSelector          { return questionRepo{q: r.DB} }
func (r *PostgresRepo) Groups() domain.GroupDirectory              { return groupDirectory{q: r.DB} }

// Within executa fn numa transação; qualquer erro desfaz todas as escritas
func (r *PostgresRepo) Within(fn func(tx domain.Store) error) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (t txStore) Questions() domain.QuestionRepository       { return questionRepo{q: t.tx} }
func (t txStore) Sessions() domain.SessionRepository         { return sessionRepo{q: t.tx} }
func (t txStore) Ledger() domain.LedgerRepository            { return ledgerRepo{q: t.tx, inTx: true} }
func (t txStore) Certificates() domain.CertificateRepository { return certificateRepo{q: t.tx} }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// --- Questions ---

type questionRepo struct {
	q querier
}

const questionColumns = `id, topic_id, type, level, text, official_answer, options, usable_in_practice,
	usable_in_interview, interview_cooldown_days, last_interview_use_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (domain.Question, error) {
	var q domain.Question
	var opts []byte
	var lastUse sql.NullTime
	err := row.Scan(&q.ID, &q.TopicID, &q.Type, &q.Level, &q.Text, &q.OfficialAnswer, &opts,
		&q.UsableInPractice, &q.UsableInInterview, &q.InterviewCooldownDays, &lastUse)
	if err != nil {
		return q, err
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return q, fmt.Errorf("decode options of question %s: %w", q.ID, err)
		}
	}
	q.LastInterviewUseAt = timePtr(lastUse)
	return q, nil
}

func (r questionRepo) GetByID(id string) (domain.Question, error) {
	q, err := scanQuestion(r.q.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id=$1`, id))
	return q, notFound(err)
}

func (r questionRepo) GetByIDs(ids []string) ([]domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(`SELECT `+questionColumns+` FROM questions WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r questionRepo) MarkInterviewUse(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.Exec(`UPDATE questions SET last_interview_use_at=$1 WHERE id = ANY($2)`, at, pq.Array(ids))
	return err
}

// filterClause monta o WHERE de um QuestionFilter a partir do placeholder $start
func filterClause(f domain.QuestionFilter, start int) (string, []any) {
	where := fmt.Sprintf(" WHERE type=$%d", start)
	args := []any{f.Type}
	argIndex := start + 1

	if f.TopicID != nil {
		where += fmt.Sprintf(" AND topic_id=$%d", argIndex)
		args = append(args, *f.TopicID)
		argIndex++
	}
	if f.Level != nil {
		where += fmt.Sprintf(" AND level=$%d", argIndex)
		args = append(args, int(*f.Level))
		argIndex++
	}
	if f.UsableInPractice != nil {
		where += fmt.Sprintf(" AND usable_in_practice=$%d", argIndex)
		args = append(args, *f.UsableInPractice)
		argIndex++
	}
	if f.UsableInInterview != nil {
		where += fmt.Sprintf(" AND usable_in_interview=$%d", argIndex)
		args = append(args, *f.UsableInInterview)
		argIndex++
	}
	if f.EnforceCooldown {
		where += ` AND (last_interview_use_at IS NULL OR interview_cooldown_days <= 0
			OR last_interview_use_at + make_interval(days => interview_cooldown_days) <= NOW())`
	}
	return where, args
}

func (r questionRepo) Count(f domain.QuestionFilter) (int, error) {
	where, args := filterClause(f, 1)
	var n int
	err := r.q.QueryRow(`SELECT COUNT(*) FROM questions`+where, args...).Scan(&n)
	return n, err
}

// Select sorteia questões por tipo de acordo com os critérios
func (r questionRepo) Select(req domain.SelectionRequest) ([]domain.Question, error) {
	usable := true
	var selected []domain.Question
	for _, qt := range domain.QuestionTypes {
		want := req.Criteria.Requested(qt)
		if want <= 0 {
			continue
		}
		f := domain.QuestionFilter{Type: qt}
		if req.Kind == domain.KindInterview {
			f.UsableInInterview = &usable
			f.EnforceCooldown = true
		} else {
			f.UsableInPractice = &usable
		}
		where, args := filterClause(f, 1)
		argIndex := len(args) + 1
		if len(req.Criteria.TopicIDs) > 0 {
			where += fmt.Sprintf(" AND topic_id = ANY($%d)", argIndex)
			args = append(args, pq.Array(req.Criteria.TopicIDs))
			argIndex++
		}
		if len(req.Levels) > 0 {
			levels := make([]int64, len(req.Levels))
			for i, l := range req.Levels {
				levels[i] = int64(l)
			}
			where += fmt.Sprintf(" AND level = ANY($%d)", argIndex)
			args = append(args, pq.Array(levels))
			argIndex++
		}
		query := fmt.Sprintf(`SELECT %s FROM questions%s ORDER BY RANDOM() LIMIT $%d`, questionColumns, where, argIndex)
		args = append(args, want)

		rows, err := r.q.Query(query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			q, err := scanQuestion(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			selected = append(selected, q)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

// --- Templates ---

type templateRepo struct {
	q querier
}

func (r templateRepo) Create(t domain.Template) error {
	settings, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(`INSERT INTO templates (id, kind, title, settings, eligible_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Kind, t.Title, settings, t.EligibleCount, nullString(t.CreatedBy), t.CreatedAt)
	return err
}

func (r templateRepo) GetByID(id string) (domain.Template, error) {
	var t domain.Template
	var settings []byte
	err := r.q.QueryRow(`SELECT settings FROM templates WHERE id=$1`, id).Scan(&settings)
	if err != nil {
		return t, notFound(err)
	}
	if err := json.Unmarshal(settings, &t); err != nil {
		return t, fmt.Errorf("decode template %s: %w", id, err)
	}
	return t, nil
}

// --- Assignments ---

type assignmentRepo struct {
	q querier
}

func (r assignmentRepo) Create(a domain.Assignment) error {
	_, err := r.q.Exec(`INSERT INTO assignments (id, template_id, visibility, group_id, user_id, window_start, window_end,
		max_attempts, cooldown_hours, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TemplateID, a.Visibility, nullString(a.GroupID), nullString(a.UserID),
		nullTime(a.WindowStart), nullTime(a.WindowEnd), nullInt(a.MaxAttempts), nullInt(a.CooldownHours), a.CreatedAt)
	return err
}

func (r assignmentRepo) GetByID(id string) (domain.Assignment, error) {
	var a domain.Assignment
	var groupID, userID sql.NullString
	var start, end sql.NullTime
	var maxAttempts, cooldown sql.NullInt64
	err := r.q.QueryRow(`SELECT id, template_id, visibility, group_id, user_id, window_start, window_end,
		max_attempts, cooldown_hours, created_at FROM assignments WHERE id=$1`, id).
		Scan(&a.ID, &a.TemplateID, &a.Visibility, &groupID, &userID, &start, &end, &maxAttempts, &cooldown, &a.CreatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.GroupID, a.UserID = groupID.String, userID.String
	a.WindowStart, a.WindowEnd = timePtr(start), timePtr(end)
	a.MaxAttempts, a.CooldownHours = intPtr(maxAttempts), intPtr(cooldown)
	return a, nil
}

type groupDirectory struct {
	q querier
}

func (g groupDirectory) IsMember(userID, groupID string) (bool, error) {
	var exists bool
	err := g.q.QueryRow(`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID).Scan(&exists)
	return exists, err
}
