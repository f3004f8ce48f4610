package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-occurrences/internal/domain/occurrence"
)

func insertHistory(ctx context.Context, tx *sql.Tx, ref occurrence.Ref, seq int, h occurrence.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO occurrence_history (kind, id, seq, from_status, to_status, actor, ts, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, string(ref.Kind), ref.ID, seq, string(h.FromStatus), string(h.ToStatus), h.Actor, h.Timestamp, h.Reason)
	return err
}

// missingOrStale distingue por qué un UPDATE con guarda no tocó filas.
func (r *OccurrencesRepo) missingOrStale(ctx context.Context, tx *sql.Tx, ref occurrence.Ref, expected occurrence.Status, version int) error {
	var (
		status string
		n      int
	)
	err := tx.QueryRowContext(ctx, `
		SELECT status, history_len FROM occurrence_state WHERE kind = $1 AND id = $2
	`, string(ref.Kind), ref.ID).Scan(&status, &n)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(ref)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s expected %s@%d, stored %s@%d",
		occurrence.ErrStaleState, ref, expected, version, status, n)
}

func (r *OccurrencesRepo) ApplyTransition(ctx context.Context, ref occurrence.Ref, w occurrence.TransitionWrite) (occurrence.State, error) {
	if err := occurrence.ValidateTransition(w.ExpectedStatus, w.Entry.ToStatus); err != nil {
		return occurrence.State{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return occurrence.State{}, err
	}
	defer rollback(tx)

	var finalizedAt any
	if w.FinalizedAt != nil {
		finalizedAt = *w.FinalizedAt
	}

	// En el SET, finalized_at del CASE es el valor previo de la fila.
	res, err := tx.ExecContext(ctx, `
		UPDATE occurrence_state
		SET status = $3,
			history_len = history_len + 1,
			finalized_by = CASE WHEN finalized_at IS NULL AND $4::timestamptz IS NOT NULL THEN $5 ELSE finalized_by END,
			finalized_at = COALESCE(finalized_at, $4::timestamptz),
			updated_at = $6
		WHERE kind = $1 AND id = $2 AND status = $7 AND history_len = $8
	`,
		string(ref.Kind), ref.ID,
		string(w.Entry.ToStatus),
		finalizedAt, w.FinalizedBy,
		w.Entry.Timestamp,
		string(w.ExpectedStatus), w.ExpectedVersion,
	)
	if err != nil {
		return occurrence.State{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return occurrence.State{}, r.missingOrStale(ctx, tx, ref, w.ExpectedStatus, w.ExpectedVersion)
	}

	if err := insertHistory(ctx, tx, ref, w.ExpectedVersion+1, w.Entry); err != nil {
		return occurrence.State{}, err
	}
	if err := tx.Commit(); err != nil {
		return occurrence.State{}, err
	}
	return r.readState(ctx, ref)
}

func (r *OccurrencesRepo) RecordTriage(ctx context.Context, ref occurrence.Ref, w occurrence.TriageWrite) (occurrence.State, error) {
	next := w.ExpectedStatus
	appended := 0
	if w.Entry != nil {
		next = w.Entry.ToStatus
		appended = 1
		if next != w.ExpectedStatus {
			if err := occurrence.ValidateTransition(w.ExpectedStatus, next); err != nil {
				return occurrence.State{}, err
			}
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return occurrence.State{}, err
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		UPDATE occurrence_state
		SET triage = $3, status = $4, history_len = history_len + $5, updated_at = $6
		WHERE kind = $1 AND id = $2 AND status = $7 AND history_len = $8
	`,
		string(ref.Kind), ref.ID,
		string(w.Level), string(next), appended, w.At,
		string(w.ExpectedStatus), w.ExpectedVersion,
	)
	if err != nil {
		return occurrence.State{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return occurrence.State{}, r.missingOrStale(ctx, tx, ref, w.ExpectedStatus, w.ExpectedVersion)
	}

	if w.Entry != nil {
		if err := insertHistory(ctx, tx, ref, w.ExpectedVersion+1, *w.Entry); err != nil {
			return occurrence.State{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return occurrence.State{}, err
	}
	return r.readState(ctx, ref)
}

func (r *OccurrencesRepo) SetOutcome(ctx context.Context, ref occurrence.Ref, o occurrence.Outcome, at time.Time) (occurrence.State, error) {
	raw, err := json.Marshal(toOutcomeRow(o))
	if err != nil {
		return occurrence.State{}, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE occurrence_state
		SET outcome = $3, updated_at = $4
		WHERE kind = $1 AND id = $2 AND status NOT IN ('completed', 'not_applicable')
	`, string(ref.Kind), ref.ID, raw, at)
	if err != nil {
		return occurrence.State{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		st, err := r.readState(ctx, ref)
		if err != nil {
			return occurrence.State{}, err
		}
		return occurrence.State{}, fmt.Errorf("%w: %s", occurrence.ErrTerminal, st.Status)
	}
	return r.readState(ctx, ref)
}

// bumpCounter reserva el próximo seq de una secuencia. El UPDATE toma el lock
// de la fila, así que dos appends concurrentes no comparten seq.
func bumpCounter(ctx context.Context, tx *sql.Tx, ref occurrence.Ref, column string, by int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		UPDATE occurrence_state SET `+column+` = `+column+` + $3
		WHERE kind = $1 AND id = $2
		RETURNING `+column,
		string(ref.Kind), ref.ID, by,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound(ref)
	}
	return n, err
}

func (r *OccurrencesRepo) AppendComment(ctx context.Context, ref occurrence.Ref, c occurrence.Comment) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer rollback(tx)

	n, err := bumpCounter(ctx, tx, ref, "comments_len", 1)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO occurrence_comments (kind, id, seq, author, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, string(ref.Kind), ref.ID, n, c.Author, c.Body, c.CreatedAt); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *OccurrencesRepo) AddAttachments(ctx context.Context, ref occurrence.Ref, in []occurrence.Attachment) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer rollback(tx)

	n, err := bumpCounter(ctx, tx, ref, "attachments_len", len(in))
	if err != nil {
		return 0, err
	}
	first := n - len(in) + 1
	for i, a := range in {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO occurrence_attachments (kind, id, seq, name, mime_type, size, storage_path, is_image, uploader, uploaded_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, string(ref.Kind), ref.ID, first+i, a.Name, a.MimeType, a.Size, a.StoragePath, a.IsImage, a.Uploader, a.UploadedAt); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *OccurrencesRepo) EnsureShareToken(ctx context.Context, ref occurrence.Ref, candidate string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty share token", occurrence.ErrInvalidInput)
	}

	// Solo escribe si no había token; si otro writer ganó, se devuelve el suyo.
	var token sql.NullString
	err := r.db.QueryRowContext(ctx, `
		WITH upd AS (
			UPDATE occurrence_state SET share_token = $3
			WHERE kind = $1 AND id = $2 AND share_token IS NULL
			RETURNING share_token
		)
		SELECT share_token FROM upd
		UNION ALL
		SELECT share_token FROM occurrence_state WHERE kind = $1 AND id = $2 AND share_token IS NOT NULL
		LIMIT 1
	`, string(ref.Kind), ref.ID, candidate).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(ref)
	}
	if err != nil {
		return "", err
	}
	return token.String, nil
}

func (r *OccurrencesRepo) FindByShareToken(ctx context.Context, token string) (occurrence.Ref, error) {
	var kind, id string
	err := r.db.QueryRowContext(ctx, `
		SELECT kind, id FROM occurrence_state WHERE share_token = $1
	`, strings.TrimSpace(token)).Scan(&kind, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return occurrence.Ref{}, fmt.Errorf("%w: share token", occurrence.ErrNotFound)
	}
	if err != nil {
		return occurrence.Ref{}, err
	}
	return occurrence.Ref{Kind: occurrence.SourceKind(kind), ID: id}, nil
}

func (r *OccurrencesRepo) SetReport(ctx context.Context, ref occurrence.Ref, rep occurrence.ReportRef) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE occurrence_state
		SET report_path = $3, report_generated_at = $4
		WHERE kind = $1 AND id = $2
	`, string(ref.Kind), ref.ID, rep.Path, rep.GeneratedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(ref)
	}
	return nil
}

func (r *OccurrencesRepo) MarkNotified(ctx context.Context, ref occurrence.Ref, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE occurrence_state
		SET notified_at = COALESCE(notified_at, $3)
		WHERE kind = $1 AND id = $2
	`, string(ref.Kind), ref.ID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(ref)
	}
	return nil
}

func (r *OccurrencesRepo) UpdateReviewRouting(ctx context.Context, ref occurrence.Ref, w occurrence.RoutingWrite) (occurrence.State, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return occurrence.State{}, err
	}
	defer rollback(tx)

	var routedAt any
	if w.RoutedAt != nil {
		routedAt = *w.RoutedAt
	}
	added := 0
	if w.Message != nil {
		added = 1
	}

	var n int
	err = tx.QueryRowContext(ctx, `
		UPDATE occurrence_state
		SET routing_reviewer = COALESCE(NULLIF($3, ''), routing_reviewer),
			routed_at = COALESCE($4::timestamptz, routed_at),
			messages_len = messages_len + $5,
			updated_at = $6
		WHERE kind = $1 AND id = $2
		RETURNING messages_len
	`, string(ref.Kind), ref.ID, w.DestinationReviewer, routedAt, added, w.At).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return occurrence.State{}, notFound(ref)
	}
	if err != nil {
		return occurrence.State{}, err
	}

	if w.Message != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO occurrence_routing_messages (kind, id, seq, author, body, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, string(ref.Kind), ref.ID, n, w.Message.Author, w.Message.Body, w.Message.CreatedAt); err != nil {
			return occurrence.State{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return occurrence.State{}, err
	}
	return r.readState(ctx, ref)
}
