package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/sqlutil"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds one method per SQL statement.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const roomColumns = `id, join_code, status, current_question_id, lease, created_at, updated_at`

func scanRoom(s rowScanner) (*models.Room, error) {
	var (
		r       models.Room
		status  string
		current uuid.NullUUID
		lease   pqtype.NullRawMessage
	)
	if err := s.Scan(&r.ID, &r.JoinCode, &status, &current, &lease, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	l, err := sqlutil.FromNullRawJSON[models.Lease](lease)
	if err != nil {
		return nil, err
	}
	r.Status = models.RoomStatus(status)
	r.CurrentQuestionID = sqlutil.FromNullUUID(current)
	r.Lease = l
	return &r, nil
}

const retireLiveRooms = `-- name: RetireLiveRooms :many
UPDATE rooms SET status = 'finished', current_question_id = NULL, updated_at = now()
WHERE status <> 'finished'
RETURNING id`

func (q *Queries) RetireLiveRooms(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, retireLiveRooms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const insertRoom = `-- name: InsertRoom :one
INSERT INTO rooms (id, join_code, status)
VALUES ($1, $2, 'lobby')
RETURNING ` + roomColumns

func (q *Queries) InsertRoom(ctx context.Context, id uuid.UUID, joinCode string) (*models.Room, error) {
	return scanRoom(q.db.QueryRowContext(ctx, insertRoom, id, joinCode))
}

const getRoom = `-- name: GetRoom :one
SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

func (q *Queries) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return scanRoom(q.db.QueryRowContext(ctx, getRoom, id))
}

const getLiveRoom = `-- name: GetLiveRoom :one
SELECT ` + roomColumns + ` FROM rooms WHERE status <> 'finished'
ORDER BY created_at DESC LIMIT 1`

func (q *Queries) GetLiveRoom(ctx context.Context) (*models.Room, error) {
	return scanRoom(q.db.QueryRowContext(ctx, getLiveRoom))
}

const getRoomByJoinCode = `-- name: GetRoomByJoinCode :one
SELECT ` + roomColumns + ` FROM rooms WHERE join_code = $1`

func (q *Queries) GetRoomByJoinCode(ctx context.Context, code string) (*models.Room, error) {
	return scanRoom(q.db.QueryRowContext(ctx, getRoomByJoinCode, code))
}

const joinCodeExists = `-- name: JoinCodeExists :one
SELECT EXISTS (SELECT 1 FROM rooms WHERE join_code = $1)`

func (q *Queries) JoinCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, joinCodeExists, code).Scan(&exists)
	return exists, err
}

const updateRoomStatus = `-- name: UpdateRoomStatus :execrows
UPDATE rooms SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2`

func (q *Queries) UpdateRoomStatus(ctx context.Context, id uuid.UUID, from, to models.RoomStatus) (int64, error) {
	return execRows(q.db.ExecContext(ctx, updateRoomStatus, id, string(from), string(to)))
}

const retireRoom = `-- name: RetireRoom :execrows
UPDATE rooms SET status = 'finished', current_question_id = NULL, updated_at = now()
WHERE id = $1 AND status <> 'finished'`

func (q *Queries) RetireRoom(ctx context.Context, id uuid.UUID) (int64, error) {
	return execRows(q.db.ExecContext(ctx, retireRoom, id))
}

const activateQuestion = `-- name: ActivateQuestion :execrows
UPDATE rooms SET current_question_id = $2, updated_at = now()
WHERE id = $1 AND current_question_id IS DISTINCT FROM $2
  AND EXISTS (
    SELECT 1 FROM questions q JOIN categories c ON c.id = q.category_id
    WHERE q.id = $2 AND NOT q.is_answered
      AND c.round = CASE rooms.status
        WHEN 'round_1' THEN 1 WHEN 'round_2' THEN 2 WHEN 'final_jeopardy' THEN 3
      END
  )`

func (q *Queries) ActivateQuestion(ctx context.Context, roomID, questionID uuid.UUID) (int64, error) {
	return execRows(q.db.ExecContext(ctx, activateQuestion, roomID, questionID))
}

const clearQuestion = `-- name: ClearQuestion :execrows
UPDATE rooms SET current_question_id = NULL, updated_at = now()
WHERE id = $1 AND current_question_id = $2`

func (q *Queries) ClearQuestion(ctx context.Context, roomID, questionID uuid.UUID) (int64, error) {
	return execRows(q.db.ExecContext(ctx, clearQuestion, roomID, questionID))
}

const setLease = `-- name: SetLease :execrows
UPDATE rooms SET lease = $2, updated_at = now() WHERE id = $1`

func (q *Queries) SetLease(ctx context.Context, roomID uuid.UUID, lease pqtype.NullRawMessage) (int64, error) {
	return execRows(q.db.ExecContext(ctx, setLease, roomID, lease))
}

const teamColumns = `id, room_id, name, slug, score, is_active, join_order, created_at`

func scanTeam(s rowScanner) (*models.Team, error) {
	var t models.Team
	if err := s.Scan(&t.ID, &t.RoomID, &t.Name, &t.Slug, &t.Score, &t.IsActive, &t.JoinOrder, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

const insertTeam = `-- name: InsertTeam :one
INSERT INTO teams (id, room_id, name, slug)
VALUES ($1, $2, $3, $4)
RETURNING ` + teamColumns

func (q *Queries) InsertTeam(ctx context.Context, id, roomID uuid.UUID, name, slug string) (*models.Team, error) {
	return scanTeam(q.db.QueryRowContext(ctx, insertTeam, id, roomID, name, slug))
}

const getTeam = `-- name: GetTeam :one
SELECT ` + teamColumns + ` FROM teams WHERE id = $1`

func (q *Queries) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	return scanTeam(q.db.QueryRowContext(ctx, getTeam, id))
}

const listTeams = `-- name: ListTeams :many
SELECT ` + teamColumns + ` FROM teams WHERE room_id = $1 ORDER BY join_order`

func (q *Queries) ListTeams(ctx context.Context, roomID uuid.UUID) ([]models.Team, error) {
	rows, err := q.db.QueryContext(ctx, listTeams, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const adjustScore = `-- name: AdjustScore :one
UPDATE teams SET score = score + $2 WHERE id = $1 RETURNING score`

func (q *Queries) AdjustScore(ctx context.Context, teamID uuid.UUID, delta int) (int, error) {
	var score int
	err := q.db.QueryRowContext(ctx, adjustScore, teamID, delta).Scan(&score)
	return score, err
}

const deactivateTeam = `-- name: DeactivateTeam :execrows
UPDATE teams SET is_active = false WHERE id = $1 AND room_id = $2 AND is_active`

func (q *Queries) DeactivateTeam(ctx context.Context, teamID, roomID uuid.UUID) (int64, error) {
	return execRows(q.db.ExecContext(ctx, deactivateTeam, teamID, roomID))
}

const playerColumns = `id, team_id, room_id, display_name, session_id, created_at`

func scanPlayer(s rowScanner) (*models.Player, error) {
	var (
		p    models.Player
		name sql.NullString
	)
	if err := s.Scan(&p.ID, &p.TeamID, &p.RoomID, &name, &p.SessionID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.DisplayName = sqlutil.FromSqlStringPtr(name)
	return &p, nil
}

const insertPlayer = `-- name: InsertPlayer :one
INSERT INTO players (id, team_id, room_id, display_name, session_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + playerColumns

func (q *Queries) InsertPlayer(ctx context.Context, p models.Player) (*models.Player, error) {
	return scanPlayer(q.db.QueryRowContext(ctx, insertPlayer,
		p.ID, p.TeamID, p.RoomID, sqlutil.ToSqlString(p.DisplayName), p.SessionID))
}

const getPlayerBySession = `-- name: GetPlayerBySession :one
SELECT ` + playerColumns + ` FROM players WHERE session_id = $1`

func (q *Queries) GetPlayerBySession(ctx context.Context, sessionID string) (*models.Player, error) {
	return scanPlayer(q.db.QueryRowContext(ctx, getPlayerBySession, sessionID))
}

const deleteRoomQuestions = `-- name: DeleteRoomQuestions :exec
DELETE FROM questions WHERE room_id = $1`

const deleteRoomCategories = `-- name: DeleteRoomCategories :exec
DELETE FROM categories WHERE room_id = $1`

func (q *Queries) DeleteRoomContent(ctx context.Context, roomID uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, deleteRoomQuestions, roomID); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, deleteRoomCategories, roomID)
	return err
}

const insertCategory = `-- name: InsertCategory :exec
INSERT INTO categories (id, room_id, round, name, position) VALUES ($1, $2, $3, $4, $5)`

func (q *Queries) InsertCategory(ctx context.Context, c models.Category) error {
	_, err := q.db.ExecContext(ctx, insertCategory, c.ID, c.RoomID, c.Round, c.Name, c.Position)
	return err
}

const insertQuestion = `-- name: InsertQuestion :exec
INSERT INTO questions (id, category_id, room_id, clue, answer, point_value, position)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (q *Queries) InsertQuestion(ctx context.Context, qn models.Question) error {
	_, err := q.db.ExecContext(ctx, insertQuestion,
		qn.ID, qn.CategoryID, qn.RoomID, qn.Clue, qn.Answer, sqlutil.ToSqlInt32(qn.PointValue), qn.Position)
	return err
}

const listCategories = `-- name: ListCategories :many
SELECT id, room_id, round, name, position FROM categories
WHERE room_id = $1 AND round = $2 ORDER BY position`

func (q *Queries) ListCategories(ctx context.Context, roomID uuid.UUID, round int) ([]models.Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories, roomID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.RoomID, &c.Round, &c.Name, &c.Position); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const questionColumns = `q.id, q.category_id, q.room_id, q.clue, q.answer, q.point_value, q.position, q.is_answered, q.answered_by`

func scanQuestion(s rowScanner) (*models.Question, error) {
	var (
		qn         models.Question
		points     sql.NullInt32
		answeredBy uuid.NullUUID
	)
	if err := s.Scan(&qn.ID, &qn.CategoryID, &qn.RoomID, &qn.Clue, &qn.Answer, &points, &qn.Position, &qn.IsAnswered, &answeredBy); err != nil {
		return nil, err
	}
	qn.PointValue = sqlutil.FromSqlInt32(points)
	qn.AnsweredBy = sqlutil.FromNullUUID(answeredBy)
	return &qn, nil
}

const listQuestions = `-- name: ListQuestions :many
SELECT ` + questionColumns + ` FROM questions q
JOIN categories c ON c.id = q.category_id
WHERE q.room_id = $1 AND c.round = $2
ORDER BY c.position, q.position`

func (q *Queries) ListQuestions(ctx context.Context, roomID uuid.UUID, round int) ([]models.Question, error) {
	rows, err := q.db.QueryContext(ctx, listQuestions, roomID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Question
	for rows.Next() {
		qn, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *qn)
	}
	return out, rows.Err()
}

const getQuestion = `-- name: GetQuestion :one
SELECT ` + questionColumns + ` FROM questions q WHERE q.id = $1`

func (q *Queries) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	return scanQuestion(q.db.QueryRowContext(ctx, getQuestion, id))
}

const markAnswered = `-- name: MarkAnswered :execrows
UPDATE questions SET is_answered = true, answered_by = $2
WHERE id = $1 AND NOT is_answered`

func (q *Queries) MarkAnswered(ctx context.Context, questionID uuid.UUID, answeredBy uuid.NullUUID) (int64, error) {
	return execRows(q.db.ExecContext(ctx, markAnswered, questionID, answeredBy))
}

const buzzColumns = `id, question_id, team_id, room_id, buzzed_at, response, responded_at, status`

func scanBuzz(s rowScanner) (*models.Buzz, error) {
	var (
		b           models.Buzz
		response    sql.NullString
		respondedAt sql.NullTime
		status      string
	)
	if err := s.Scan(&b.ID, &b.QuestionID, &b.TeamID, &b.RoomID, &b.BuzzedAt, &response, &respondedAt, &status); err != nil {
		return nil, err
	}
	b.Response = sqlutil.FromSqlStringPtr(response)
	b.RespondedAt = sqlutil.FromSqlTime(respondedAt)
	b.Status = models.BuzzStatus(status)
	return &b, nil
}

// insertBuzz only succeeds while the question is the room's current question
// and the team is active. buzzed_at is stamped by trigger.
const insertBuzz = `-- name: InsertBuzz :one
INSERT INTO buzzes (id, room_id, question_id, team_id, status)
SELECT $1, $2, $3, $4, 'pending'
WHERE EXISTS (SELECT 1 FROM rooms r WHERE r.id = $2 AND r.current_question_id = $3)
  AND EXISTS (SELECT 1 FROM teams t WHERE t.id = $4 AND t.room_id = $2 AND t.is_active)
RETURNING ` + buzzColumns

func (q *Queries) InsertBuzz(ctx context.Context, id, roomID, questionID, teamID uuid.UUID) (*models.Buzz, error) {
	return scanBuzz(q.db.QueryRowContext(ctx, insertBuzz, id, roomID, questionID, teamID))
}

const getBuzz = `-- name: GetBuzz :one
SELECT ` + buzzColumns + ` FROM buzzes WHERE id = $1`

func (q *Queries) GetBuzz(ctx context.Context, id uuid.UUID) (*models.Buzz, error) {
	return scanBuzz(q.db.QueryRowContext(ctx, getBuzz, id))
}

const listBuzzes = `-- name: ListBuzzes :many
SELECT ` + buzzColumns + ` FROM buzzes WHERE question_id = $1 ORDER BY buzzed_at, id`

func (q *Queries) ListBuzzes(ctx context.Context, questionID uuid.UUID) ([]models.Buzz, error) {
	rows, err := q.db.QueryContext(ctx, listBuzzes, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Buzz
	for rows.Next() {
		b, err := scanBuzz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const transitionBuzz = `-- name: TransitionBuzz :execrows
UPDATE buzzes SET status = $3 WHERE id = $1 AND status = $2`

func (q *Queries) TransitionBuzz(ctx context.Context, id uuid.UUID, from, to models.BuzzStatus) (int64, error) {
	return execRows(q.db.ExecContext(ctx, transitionBuzz, id, string(from), string(to)))
}

const setBuzzResponse = `-- name: SetBuzzResponse :execrows
UPDATE buzzes SET response = $3, responded_at = now()
WHERE id = $1 AND team_id = $2 AND status = 'pending'`

func (q *Queries) SetBuzzResponse(ctx context.Context, id, teamID uuid.UUID, response string) (int64, error) {
	return execRows(q.db.ExecContext(ctx, setBuzzResponse, id, teamID, response))
}

const skipPendingBuzzes = `-- name: SkipPendingBuzzes :execrows
UPDATE buzzes SET status = 'skipped' WHERE question_id = $1 AND status = 'pending'`

func (q *Queries) SkipPendingBuzzes(ctx context.Context, questionID uuid.UUID) (int64, error) {
	return execRows(q.db.ExecContext(ctx, skipPendingBuzzes, questionID))
}

const wagerColumns = `id, room_id, team_id, amount, response, responded_at, status, created_at`

func scanWager(s rowScanner) (*models.Wager, error) {
	var (
		w           models.Wager
		response    sql.NullString
		respondedAt sql.NullTime
		status      string
	)
	if err := s.Scan(&w.ID, &w.RoomID, &w.TeamID, &w.Amount, &response, &respondedAt, &status, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Response = sqlutil.FromSqlStringPtr(response)
	w.RespondedAt = sqlutil.FromSqlTime(respondedAt)
	w.Status = models.WagerStatus(status)
	return &w, nil
}

// lockWager clamps against the live score at insert time.
const lockWager = `-- name: LockWager :one
INSERT INTO wagers (id, room_id, team_id, amount, status)
SELECT $1, $2, t.id, LEAST(GREATEST($4::int, 0), GREATEST(t.score, 0)), 'pending'
FROM teams t WHERE t.id = $3 AND t.room_id = $2 AND t.is_active
RETURNING ` + wagerColumns

func (q *Queries) LockWager(ctx context.Context, id, roomID, teamID uuid.UUID, amount int) (*models.Wager, error) {
	return scanWager(q.db.QueryRowContext(ctx, lockWager, id, roomID, teamID, amount))
}

const setWagerResponse = `-- name: SetWagerResponse :execrows
UPDATE wagers SET response = $3, responded_at = now()
WHERE room_id = $1 AND team_id = $2 AND status = 'pending'`

func (q *Queries) SetWagerResponse(ctx context.Context, roomID, teamID uuid.UUID, response string) (int64, error) {
	return execRows(q.db.ExecContext(ctx, setWagerResponse, roomID, teamID, response))
}

const listWagers = `-- name: ListWagers :many
SELECT ` + wagerColumns + ` FROM wagers WHERE room_id = $1 ORDER BY created_at`

func (q *Queries) ListWagers(ctx context.Context, roomID uuid.UUID) ([]models.Wager, error) {
	rows, err := q.db.QueryContext(ctx, listWagers, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

const judgeWager = `-- name: JudgeWager :execrows
UPDATE wagers SET status = $2 WHERE id = $1 AND status = 'pending'`

func (q *Queries) JudgeWager(ctx context.Context, id uuid.UUID, to models.WagerStatus) (int64, error) {
	return execRows(q.db.ExecContext(ctx, judgeWager, id, string(to)))
}

func execRows(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
