package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/storage"
)

const timerColumns = `t.id, t.timer_type, t.initial_duration, t.current_player, t.id_user,
	t.context_kind, t.context_id, t.version, t.created_at, t.updated_at, r.duration_increment`

const timerFrom = `FROM timers t LEFT JOIN reload_timers r ON r.id_timer = t.id`

type unitOfWork struct {
	tx pgx.Tx
}

func (u *unitOfWork) LockTimer(ctx context.Context, id model.TimerID, mode storage.LockMode) error {
	clause := "FOR SHARE"
	if mode == storage.LockExclusive {
		clause = "FOR UPDATE"
	}
	var locked string
	err := u.tx.QueryRow(ctx, `SELECT id FROM timers WHERE id = $1 `+clause, string(id)).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrTimerNotFound
	}
	if err != nil {
		return fmt.Errorf("lock timer: %w", err)
	}
	return nil
}

func scanTimer(row pgx.Row) (*model.Timer, error) {
	var (
		t           model.Timer
		id, creator string
		timerType   string
		ctxKind     *string
		ctxID       *string
		increment   *int64
	)
	err := row.Scan(&id, &timerType, &t.InitialDuration, &t.CurrentPlayer, &creator,
		&ctxKind, &ctxID, &t.Version, &t.CreatedAt, &t.UpdatedAt, &increment)
	if err != nil {
		return nil, err
	}
	t.ID = model.TimerID(id)
	t.Type = model.TimerType(timerType)
	t.Creator = model.UserID(creator)
	if ctxKind != nil && ctxID != nil {
		t.Context = &model.ContextRef{Kind: model.ContextKind(*ctxKind), ID: *ctxID}
	}
	if increment != nil {
		t.Reload = &model.ReloadExtension{DurationIncrement: *increment}
	}
	return &t, nil
}

func (u *unitOfWork) GetTimer(ctx context.Context, id model.TimerID) (*model.Timer, error) {
	row := u.tx.QueryRow(ctx, `SELECT `+timerColumns+` `+timerFrom+` WHERE t.id = $1`, string(id))
	timer, err := scanTimer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrTimerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get timer: %w", err)
	}
	return timer, nil
}

func (u *unitOfWork) GetPlayers(ctx context.Context, id model.TimerID) ([]*model.PlayerTimer, error) {
	if _, err := u.GetTimer(ctx, id); err != nil {
		return nil, err
	}
	rows, err := u.tx.Query(ctx, `
		SELECT id, id_timer, turn_order, id_user, name, color, elapsed, start
		FROM player_timers WHERE id_timer = $1 ORDER BY turn_order`, string(id))
	if err != nil {
		return nil, fmt.Errorf("get players: %w", err)
	}
	defer rows.Close()

	var players []*model.PlayerTimer
	for rows.Next() {
		var (
			p            model.PlayerTimer
			pid, timerID string
			user, name   *string
		)
		if err := rows.Scan(&pid, &timerID, &p.TurnOrder, &user, &name, &p.Color, &p.Elapsed, &p.Start); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		p.ID = model.PlayerTimerID(pid)
		p.TimerID = model.TimerID(timerID)
		if user != nil {
			p.UserID = model.UserID(*user)
		}
		if name != nil {
			p.Name = *name
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (u *unitOfWork) CreateTimer(ctx context.Context, timer *model.Timer, players []*model.PlayerTimer) error {
	var ctxKind, ctxID *string
	if timer.Context != nil {
		ctxKind = nullable(string(timer.Context.Kind))
		ctxID = nullable(timer.Context.ID)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO timers (id, timer_type, initial_duration, current_player, id_user,
			context_kind, context_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(timer.ID), string(timer.Type), timer.InitialDuration, timer.CurrentPlayer,
		string(timer.Creator), ctxKind, ctxID, timer.Version, timer.CreatedAt, timer.UpdatedAt)
	if timer.Reload != nil {
		batch.Queue(`INSERT INTO reload_timers (id_timer, duration_increment) VALUES ($1, $2)`,
			string(timer.ID), timer.Reload.DurationIncrement)
	}
	for _, p := range players {
		batch.Queue(`
			INSERT INTO player_timers (id, id_timer, turn_order, id_user, name, color, elapsed, start)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			string(p.ID), string(timer.ID), p.TurnOrder, nullable(string(p.UserID)),
			nullable(p.Name), p.Color, p.Elapsed, p.Start)
	}
	if err := u.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create timer: %w", err)
	}
	return nil
}

func (u *unitOfWork) SaveTimer(ctx context.Context, timer *model.Timer) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE timers SET current_player = $2, version = $3, updated_at = $4
		WHERE id = $1`,
		string(timer.ID), timer.CurrentPlayer, timer.Version, timer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTimerNotFound
	}
	return nil
}

func (u *unitOfWork) SavePlayer(ctx context.Context, player *model.PlayerTimer) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE player_timers SET turn_order = $3, color = $4, elapsed = $5, start = $6
		WHERE id = $1 AND id_timer = $2`,
		string(player.ID), string(player.TimerID), player.TurnOrder, player.Color, player.Elapsed, player.Start)
	if err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPlayerNotFound
	}
	return nil
}

func (u *unitOfWork) DeleteTimer(ctx context.Context, id model.TimerID) error {
	tag, err := u.tx.Exec(ctx, `DELETE FROM timers WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTimerNotFound
	}
	return nil
}

func (u *unitOfWork) ListTimersForUser(ctx context.Context, user model.UserID) ([]*model.Timer, error) {
	rows, err := u.tx.Query(ctx, `SELECT `+timerColumns+` `+timerFrom+`
		WHERE t.id_user = $1
		   OR EXISTS (SELECT 1 FROM player_timers p WHERE p.id_timer = t.id AND p.id_user = $1)
		ORDER BY t.created_at`, string(user))
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	var timers []*model.Timer
	for rows.Next() {
		timer, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		timers = append(timers, timer)
	}
	return timers, rows.Err()
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	return u.tx.Commit(ctx)
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(context.WithoutCancel(ctx))
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
