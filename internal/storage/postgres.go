package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/chatform/survey-engine/internal/model"
)

// Postgres is the sqlx-backed Store. Choices, constraints and answers are
// denormalized into jsonb columns on the question row; they are always read
// and written together with the question.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to the database and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS surveys (
	id                  BIGSERIAL PRIMARY KEY,
	user_id             BIGINT      NOT NULL,
	message_id          BIGINT,
	is_active           BOOLEAN     NOT NULL DEFAULT TRUE,
	is_cancelled        BOOLEAN     NOT NULL DEFAULT FALSE,
	is_completed        BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL,
	last_interaction_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_surveys_user ON surveys (user_id, id DESC);

CREATE TABLE IF NOT EXISTS questions (
	id                  BIGSERIAL PRIMARY KEY,
	survey_id           BIGINT      NOT NULL REFERENCES surveys (id) ON DELETE CASCADE,
	internal_id         INTEGER     NOT NULL DEFAULT 0,
	field_type          INTEGER     NOT NULL DEFAULT 0,
	pick_only_defaults  BOOLEAN     NOT NULL DEFAULT FALSE,
	is_completed        BOOLEAN     NOT NULL DEFAULT FALSE,
	is_mandatory        BOOLEAN     NOT NULL DEFAULT FALSE,
	expects_command     BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL,
	text                TEXT        NOT NULL DEFAULT '',
	follow_up           TEXT        NOT NULL DEFAULT '',
	follow_up_separator TEXT        NOT NULL DEFAULT '',
	image_url           TEXT        NOT NULL DEFAULT '',
	disable_web_preview BOOLEAN     NOT NULL DEFAULT FALSE,
	max_buttons_per_row INTEGER     NOT NULL DEFAULT 0,
	handler_tag         TEXT        NOT NULL DEFAULT '',
	event_hook          TEXT        NOT NULL DEFAULT '',
	choices             JSONB       NOT NULL DEFAULT '[]',
	constraints         JSONB       NOT NULL DEFAULT '[]',
	answers             JSONB       NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_questions_survey ON questions (survey_id, id);`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type surveyRow struct {
	ID                int64         `db:"id"`
	UserID            int64         `db:"user_id"`
	MessageID         sql.NullInt64 `db:"message_id"`
	IsActive          bool          `db:"is_active"`
	IsCancelled       bool          `db:"is_cancelled"`
	IsCompleted       bool          `db:"is_completed"`
	CreatedAt         time.Time     `db:"created_at"`
	LastInteractionAt time.Time     `db:"last_interaction_at"`
}

func (r surveyRow) toModel() *model.Survey {
	s := &model.Survey{
		ID:                r.ID,
		UserID:            r.UserID,
		IsActive:          r.IsActive,
		IsCancelled:       r.IsCancelled,
		IsCompleted:       r.IsCompleted,
		CreatedAt:         r.CreatedAt,
		LastInteractionAt: r.LastInteractionAt,
	}
	if r.MessageID.Valid {
		s.MessageID = r.MessageID.Int64
	}
	return s
}

func surveyRowFrom(s *model.Survey) surveyRow {
	r := surveyRow{
		ID:                s.ID,
		UserID:            s.UserID,
		IsActive:          s.IsActive,
		IsCancelled:       s.IsCancelled,
		IsCompleted:       s.IsCompleted,
		CreatedAt:         s.CreatedAt,
		LastInteractionAt: s.LastInteractionAt,
	}
	if s.MessageID != 0 {
		r.MessageID = sql.NullInt64{Int64: s.MessageID, Valid: true}
	}
	return r
}

type questionRow struct {
	ID                int64     `db:"id"`
	SurveyID          int64     `db:"survey_id"`
	InternalID        int       `db:"internal_id"`
	FieldType         int       `db:"field_type"`
	PickOnlyDefaults  bool      `db:"pick_only_defaults"`
	IsCompleted       bool      `db:"is_completed"`
	IsMandatory       bool      `db:"is_mandatory"`
	ExpectsCommand    bool      `db:"expects_command"`
	CreatedAt         time.Time `db:"created_at"`
	Text              string    `db:"text"`
	FollowUp          string    `db:"follow_up"`
	FollowUpSeparator string    `db:"follow_up_separator"`
	ImageURL          string    `db:"image_url"`
	DisableWebPreview bool      `db:"disable_web_preview"`
	MaxButtonsPerRow  int       `db:"max_buttons_per_row"`
	HandlerTag        string    `db:"handler_tag"`
	EventHook         string    `db:"event_hook"`
	Choices           []byte    `db:"choices"`
	Constraints       []byte    `db:"constraints"`
	Answers           []byte    `db:"answers"`
}

func (r questionRow) toModel() (*model.Question, error) {
	q := &model.Question{
		ID:                     r.ID,
		SurveyID:               r.SurveyID,
		InternalID:             r.InternalID,
		FieldType:              model.FieldType(r.FieldType),
		PickOnlyDefaultAnswers: r.PickOnlyDefaults,
		IsCompleted:            r.IsCompleted,
		IsMandatory:            r.IsMandatory,
		ExpectsCommand:         r.ExpectsCommand,
		CreatedAt:              r.CreatedAt,
		Text:                   r.Text,
		FollowUp:               r.FollowUp,
		FollowUpSeparator:      r.FollowUpSeparator,
		ImageURL:               r.ImageURL,
		DisableWebPagePreview:  r.DisableWebPreview,
		MaxButtonsPerRow:       r.MaxButtonsPerRow,
		HandlerTag:             r.HandlerTag,
		EventHook:              r.EventHook,
	}

	var choices []model.Choice
	if err := json.Unmarshal(r.Choices, &choices); err != nil {
		return nil, fmt.Errorf("decode choices of question %d: %w", r.ID, err)
	}
	q.SetChoices(choices)

	var constraints model.ConstraintList
	if err := json.Unmarshal(r.Constraints, &constraints); err != nil {
		return nil, fmt.Errorf("decode constraints of question %d: %w", r.ID, err)
	}
	q.SetConstraints(constraints)

	var answers []*model.Answer
	if err := json.Unmarshal(r.Answers, &answers); err != nil {
		return nil, fmt.Errorf("decode answers of question %d: %w", r.ID, err)
	}
	q.SetAnswers(answers)

	return q, nil
}

func questionRowFrom(q *model.Question) (questionRow, error) {
	choices, err := json.Marshal(q.Choices())
	if err != nil {
		return questionRow{}, fmt.Errorf("encode choices: %w", err)
	}
	constraints, err := json.Marshal(q.Constraints())
	if err != nil {
		return questionRow{}, fmt.Errorf("encode constraints: %w", err)
	}
	answers, err := json.Marshal(q.Answers())
	if err != nil {
		return questionRow{}, fmt.Errorf("encode answers: %w", err)
	}
	return questionRow{
		ID:                q.ID,
		SurveyID:          q.SurveyID,
		InternalID:        q.InternalID,
		FieldType:         int(q.FieldType),
		PickOnlyDefaults:  q.PickOnlyDefaultAnswers,
		IsCompleted:       q.IsCompleted,
		IsMandatory:       q.IsMandatory,
		ExpectsCommand:    q.ExpectsCommand,
		CreatedAt:         q.CreatedAt,
		Text:              q.Text,
		FollowUp:          q.FollowUp,
		FollowUpSeparator: q.FollowUpSeparator,
		ImageURL:          q.ImageURL,
		DisableWebPreview: q.DisableWebPagePreview,
		MaxButtonsPerRow:  q.MaxButtonsPerRow,
		HandlerTag:        q.HandlerTag,
		EventHook:         q.EventHook,
		Choices:           choices,
		Constraints:       constraints,
		Answers:           answers,
	}, nil
}

// CurrentSurvey implements Store.
func (p *Postgres) CurrentSurvey(ctx context.Context, userID int64, now time.Time, expiry time.Duration) (*model.Survey, error) {
	var row surveyRow
	err := p.db.GetContext(ctx, &row, `
		SELECT * FROM surveys
		WHERE user_id = $1 AND is_active AND last_interaction_at >= $2
		ORDER BY id DESC LIMIT 1`,
		userID, now.Add(-expiry))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load current survey for user %d: %w", userID, err)
	}
	return p.attachQuestions(ctx, row.toModel())
}

// MostRecentSurvey implements Store.
func (p *Postgres) MostRecentSurvey(ctx context.Context, userID int64) (*model.Survey, error) {
	var row surveyRow
	err := p.db.GetContext(ctx, &row, `
		SELECT * FROM surveys WHERE user_id = $1 ORDER BY id DESC LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load most recent survey for user %d: %w", userID, err)
	}
	return p.attachQuestions(ctx, row.toModel())
}

func (p *Postgres) attachQuestions(ctx context.Context, s *model.Survey) (*model.Survey, error) {
	var rows []questionRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT * FROM questions WHERE survey_id = $1 ORDER BY id`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("load questions of survey %d: %w", s.ID, err)
	}
	s.Questions = make([]*model.Question, 0, len(rows))
	for _, r := range rows {
		q, err := r.toModel()
		if err != nil {
			return nil, err
		}
		s.Questions = append(s.Questions, q)
	}
	return s, nil
}

// CreateSurvey implements Store.
func (p *Postgres) CreateSurvey(ctx context.Context, s *model.Survey) error {
	row := surveyRowFrom(s)
	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO surveys (user_id, message_id, is_active, is_cancelled, is_completed, created_at, last_interaction_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		row.UserID, row.MessageID, row.IsActive, row.IsCancelled, row.IsCompleted,
		row.CreatedAt, row.LastInteractionAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("create survey for user %d: %w", s.UserID, err)
	}
	return nil
}

// SaveSurvey implements Store.
func (p *Postgres) SaveSurvey(ctx context.Context, s *model.Survey, withQuestions bool) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save survey %d: %w", s.ID, err)
	}
	defer tx.Rollback()

	row := surveyRowFrom(s)
	if _, err := tx.NamedExecContext(ctx, `
		UPDATE surveys SET
			message_id = :message_id,
			is_active = :is_active,
			is_cancelled = :is_cancelled,
			is_completed = :is_completed,
			last_interaction_at = :last_interaction_at
		WHERE id = :id`, row); err != nil {
		return fmt.Errorf("save survey %d: %w", s.ID, err)
	}

	if withQuestions {
		for _, q := range s.Questions {
			if q.SurveyID == 0 {
				q.SurveyID = s.ID
			}
			if err := saveQuestionTx(ctx, tx, q); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// SaveQuestion implements Store.
func (p *Postgres) SaveQuestion(ctx context.Context, q *model.Question) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save question %d: %w", q.ID, err)
	}
	defer tx.Rollback()
	if err := saveQuestionTx(ctx, tx, q); err != nil {
		return err
	}
	return tx.Commit()
}

func saveQuestionTx(ctx context.Context, tx *sqlx.Tx, q *model.Question) error {
	row, err := questionRowFrom(q)
	if err != nil {
		return err
	}
	if q.ID == 0 {
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO questions (survey_id, internal_id, field_type, pick_only_defaults,
				is_completed, is_mandatory, expects_command, created_at, text,
				follow_up, follow_up_separator, image_url, disable_web_preview,
				max_buttons_per_row, handler_tag, event_hook, choices, constraints, answers)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			RETURNING id`,
			row.SurveyID, row.InternalID, row.FieldType, row.PickOnlyDefaults,
			row.IsCompleted, row.IsMandatory, row.ExpectsCommand, row.CreatedAt, row.Text,
			row.FollowUp, row.FollowUpSeparator, row.ImageURL, row.DisableWebPreview,
			row.MaxButtonsPerRow, row.HandlerTag, row.EventHook, row.Choices, row.Constraints, row.Answers).Scan(&q.ID)
		if err != nil {
			return fmt.Errorf("insert question for survey %d: %w", q.SurveyID, err)
		}
		return nil
	}
	if _, err := tx.NamedExecContext(ctx, `
		UPDATE questions SET
			field_type = :field_type,
			pick_only_defaults = :pick_only_defaults,
			is_completed = :is_completed,
			is_mandatory = :is_mandatory,
			expects_command = :expects_command,
			text = :text,
			follow_up = :follow_up,
			follow_up_separator = :follow_up_separator,
			image_url = :image_url,
			disable_web_preview = :disable_web_preview,
			max_buttons_per_row = :max_buttons_per_row,
			handler_tag = :handler_tag,
			event_hook = :event_hook,
			choices = :choices,
			constraints = :constraints,
			answers = :answers
		WHERE id = :id`, row); err != nil {
		return fmt.Errorf("update question %d: %w", q.ID, err)
	}
	return nil
}

// DeleteQuestion implements Store.
func (p *Postgres) DeleteQuestion(ctx context.Context, questionID int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, questionID); err != nil {
		return fmt.Errorf("delete question %d: %w", questionID, err)
	}
	return nil
}
