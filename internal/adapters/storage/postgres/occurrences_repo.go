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
	"clinical-occurrences/internal/domain/sources"
)

// OccurrencesRepo cumple sources.RecordStore y occurrence.Store sobre las
// tablas de schema.sql.
type OccurrencesRepo struct {
	db *sql.DB
}

func NewOccurrencesRepo(db *sql.DB) *OccurrencesRepo {
	return &OccurrencesRepo{db: db}
}

var (
	_ occurrence.Store    = (*OccurrencesRepo)(nil)
	_ sources.RecordStore = (*OccurrencesRepo)(nil)
)

func sourceTable(kind occurrence.SourceKind) (string, error) {
	switch kind {
	case occurrence.KindReview,
		occurrence.KindNursing,
		occurrence.KindPatient,
		occurrence.KindGeneric,
		occurrence.KindAdministrative:
		return string(kind) + "_occurrences", nil
	default:
		return "", fmt.Errorf("%w: unknown source kind %q", occurrence.ErrInvalidInput, kind)
	}
}

func notFound(ref occurrence.Ref) error {
	return fmt.Errorf("%w: %s", occurrence.ErrNotFound, ref)
}

func encodePayload(rec sources.Record) ([]byte, error) {
	var (
		v       any
		present bool
	)
	switch rec.Ref.Kind {
	case occurrence.KindReview:
		v, present = rec.Review, rec.Review != nil
	case occurrence.KindNursing:
		v, present = rec.Nursing, rec.Nursing != nil
	case occurrence.KindPatient:
		v, present = rec.Patient, rec.Patient != nil
	case occurrence.KindGeneric:
		v, present = rec.Generic, rec.Generic != nil
	case occurrence.KindAdministrative:
		v, present = rec.Administrative, rec.Administrative != nil
	}
	if !present {
		return nil, fmt.Errorf("%w: %s record without payload", occurrence.ErrInvalidInput, rec.Ref)
	}
	return json.Marshal(v)
}

func decodePayload(rec *sources.Record, raw []byte) error {
	var err error
	switch rec.Ref.Kind {
	case occurrence.KindReview:
		rec.Review = &sources.ReviewRecord{}
		err = json.Unmarshal(raw, rec.Review)
	case occurrence.KindNursing:
		rec.Nursing = &sources.NursingRecord{}
		err = json.Unmarshal(raw, rec.Nursing)
	case occurrence.KindPatient:
		rec.Patient = &sources.PatientRecord{}
		err = json.Unmarshal(raw, rec.Patient)
	case occurrence.KindGeneric:
		rec.Generic = &sources.GenericRecord{}
		err = json.Unmarshal(raw, rec.Generic)
	case occurrence.KindAdministrative:
		rec.Administrative = &sources.AdministrativeRecord{}
		err = json.Unmarshal(raw, rec.Administrative)
	}
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", rec.Ref, err)
	}
	return nil
}

// ---- sources.RecordStore ----

func (r *OccurrencesRepo) Create(ctx context.Context, rec sources.Record, st occurrence.State) error {
	table, err := sourceTable(rec.Ref.Kind)
	if err != nil {
		return err
	}
	payload, err := encodePayload(rec)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO occurrence_protocols (tenant_id, protocol, kind, id)
		VALUES ($1,$2,$3,$4)
	`, rec.TenantID, rec.Protocol, string(rec.Ref.Kind), rec.Ref.ID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", occurrence.ErrDuplicateProtocol, rec.Protocol)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO `+table+` (id, tenant_id, protocol, created_by, created_at, updated_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.Ref.ID, rec.TenantID, rec.Protocol, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt, payload); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO occurrence_state (kind, id, tenant_id, status, history_len, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, string(rec.Ref.Kind), rec.Ref.ID, rec.TenantID, string(st.Status), len(st.History), st.UpdatedAt); err != nil {
		return err
	}

	for i, h := range st.History {
		if err := insertHistory(ctx, tx, rec.Ref, i+1, h); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const recordColumns = `id, tenant_id, protocol, created_by, created_at, updated_at, payload`

func scanRecord(kind occurrence.SourceKind, scan func(dest ...any) error) (sources.Record, error) {
	rec := sources.Record{Ref: occurrence.Ref{Kind: kind}}
	var payload []byte
	if err := scan(
		&rec.Ref.ID,
		&rec.TenantID,
		&rec.Protocol,
		&rec.CreatedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&payload,
	); err != nil {
		return sources.Record{}, err
	}
	if err := decodePayload(&rec, payload); err != nil {
		return sources.Record{}, err
	}
	return rec, nil
}

func (r *OccurrencesRepo) Get(ctx context.Context, ref occurrence.Ref) (sources.StoredRecord, error) {
	table, err := sourceTable(ref.Kind)
	if err != nil {
		return sources.StoredRecord{}, err
	}
	if strings.TrimSpace(ref.ID) == "" {
		return sources.StoredRecord{}, notFound(ref)
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM `+table+` WHERE id = $1`, ref.ID)
	rec, err := scanRecord(ref.Kind, row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sources.StoredRecord{}, notFound(ref)
		}
		return sources.StoredRecord{}, err
	}

	st, err := r.readState(ctx, ref)
	if err != nil {
		return sources.StoredRecord{}, err
	}
	return sources.StoredRecord{Record: rec, State: st}, nil
}

func (r *OccurrencesRepo) List(ctx context.Context, tenantID string, kind occurrence.SourceKind) ([]sources.StoredRecord, error) {
	table, err := sourceTable(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM `+table+`
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make([]sources.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(kind, rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return []sources.StoredRecord{}, nil
	}

	states, err := r.readStates(ctx, tenantID, kind)
	if err != nil {
		return nil, err
	}

	out := make([]sources.StoredRecord, 0, len(recs))
	for _, rec := range recs {
		st, ok := states[rec.Ref.ID]
		if !ok {
			return nil, fmt.Errorf("%s has no lifecycle state", rec.Ref)
		}
		out = append(out, sources.StoredRecord{Record: rec, State: *st})
	}
	return out, nil
}

func (r *OccurrencesRepo) UpdateRecord(ctx context.Context, rec sources.Record, readAt time.Time) error {
	table, err := sourceTable(rec.Ref.Kind)
	if err != nil {
		return err
	}
	payload, err := encodePayload(rec)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		UPDATE `+table+`
		SET payload = $2, updated_at = $3
		WHERE id = $1 AND updated_at = $4
	`, rec.Ref.ID, payload, rec.UpdatedAt, readAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, rec.Ref.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return notFound(rec.Ref)
		}
		return fmt.Errorf("%w: %s edited concurrently", occurrence.ErrStaleState, rec.Ref)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE occurrence_state SET updated_at = $3 WHERE kind = $1 AND id = $2
	`, string(rec.Ref.Kind), rec.Ref.ID, rec.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *OccurrencesRepo) CountRecords(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM occurrence_protocols WHERE tenant_id = $1
	`, tenantID).Scan(&n)
	return n, err
}

// ---- lectura del estado ----

const stateColumns = `
	id, status, triage, outcome,
	finalized_at, finalized_by,
	report_path, report_generated_at,
	share_token, routing_reviewer, routed_at,
	notified_at, updated_at`

func scanState(scan func(dest ...any) error) (string, occurrence.State, error) {
	var (
		id                    string
		st                    occurrence.State
		status                string
		triage, finalizedBy   sql.NullString
		reportPath, token     sql.NullString
		reviewer              sql.NullString
		outcome               []byte
		finalizedAt, reportAt sql.NullTime
		routedAt, notifiedAt  sql.NullTime
	)
	if err := scan(
		&id, &status, &triage, &outcome,
		&finalizedAt, &finalizedBy,
		&reportPath, &reportAt,
		&token, &reviewer, &routedAt,
		&notifiedAt, &st.UpdatedAt,
	); err != nil {
		return "", occurrence.State{}, err
	}

	st.Status = occurrence.Status(status)
	if triage.Valid && triage.String != "" {
		t := occurrence.TriageLevel(triage.String)
		st.Triage = &t
	}
	if len(outcome) > 0 {
		var o outcomeRow
		if err := json.Unmarshal(outcome, &o); err != nil {
			return "", occurrence.State{}, fmt.Errorf("decode outcome of %s: %w", id, err)
		}
		oc := o.model()
		st.Outcome = &oc
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		st.FinalizedAt = &t
		st.FinalizedBy = finalizedBy.String
	}
	if reportPath.Valid && reportPath.String != "" {
		st.Report = &occurrence.ReportRef{Path: reportPath.String, GeneratedAt: reportAt.Time}
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		st.NotifiedAt = &t
	}
	st.ShareToken = token.String
	if reviewer.Valid || routedAt.Valid {
		rr := &occurrence.ReviewRouting{DestinationReviewer: reviewer.String}
		if routedAt.Valid {
			t := routedAt.Time
			rr.RoutedAt = &t
		}
		st.ReviewRouting = rr
	}
	return id, st, nil
}

func (r *OccurrencesRepo) readState(ctx context.Context, ref occurrence.Ref) (occurrence.State, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+stateColumns+`
		FROM occurrence_state
		WHERE kind = $1 AND id = $2
	`, string(ref.Kind), ref.ID)
	_, st, err := scanState(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return occurrence.State{}, notFound(ref)
		}
		return occurrence.State{}, err
	}

	one := map[string]*occurrence.State{ref.ID: &st}
	filter := subFilter{where: "kind = $1 AND id = $2", args: []any{string(ref.Kind), ref.ID}}
	if err := r.loadSequences(ctx, filter, one); err != nil {
		return occurrence.State{}, err
	}
	return st, nil
}

// readStates trae el estado de todas las ocurrencias de una fuente del tenant.
func (r *OccurrencesRepo) readStates(ctx context.Context, tenantID string, kind occurrence.SourceKind) (map[string]*occurrence.State, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stateColumns+`
		FROM occurrence_state
		WHERE tenant_id = $1 AND kind = $2
	`, tenantID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*occurrence.State)
	for rows.Next() {
		id, st, err := scanState(rows.Scan)
		if err != nil {
			return nil, err
		}
		s := st
		out[id] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	filter := subFilter{
		where: "kind = $1 AND id IN (SELECT id FROM occurrence_state WHERE tenant_id = $2 AND kind = $1)",
		args:  []any{string(kind), tenantID},
	}
	if err := r.loadSequences(ctx, filter, out); err != nil {
		return nil, err
	}
	return out, nil
}

type subFilter struct {
	where string
	args  []any
}

// loadSequences completa historial, comentarios, adjuntos y mensajes en orden de seq.
func (r *OccurrencesRepo) loadSequences(ctx context.Context, f subFilter, states map[string]*occurrence.State) error {
	if err := r.eachRow(ctx, `
		SELECT id, from_status, to_status, actor, ts, reason
		FROM occurrence_history WHERE `+f.where+` ORDER BY id, seq
	`, f.args, func(scan func(...any) error) error {
		var (
			id       string
			h        occurrence.HistoryEntry
			from, to string
		)
		if err := scan(&id, &from, &to, &h.Actor, &h.Timestamp, &h.Reason); err != nil {
			return err
		}
		h.FromStatus, h.ToStatus = occurrence.Status(from), occurrence.Status(to)
		if st, ok := states[id]; ok {
			st.History = append(st.History, h)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	if err := r.eachRow(ctx, `
		SELECT id, author, body, created_at
		FROM occurrence_comments WHERE `+f.where+` ORDER BY id, seq
	`, f.args, func(scan func(...any) error) error {
		var (
			id string
			c  occurrence.Comment
		)
		if err := scan(&id, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return err
		}
		if st, ok := states[id]; ok {
			st.Comments = append(st.Comments, c)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("load comments: %w", err)
	}

	if err := r.eachRow(ctx, `
		SELECT id, name, mime_type, size, storage_path, is_image, uploader, uploaded_at
		FROM occurrence_attachments WHERE `+f.where+` ORDER BY id, seq
	`, f.args, func(scan func(...any) error) error {
		var (
			id string
			a  occurrence.Attachment
		)
		if err := scan(&id, &a.Name, &a.MimeType, &a.Size, &a.StoragePath, &a.IsImage, &a.Uploader, &a.UploadedAt); err != nil {
			return err
		}
		if st, ok := states[id]; ok {
			st.Attachments = append(st.Attachments, a)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}

	if err := r.eachRow(ctx, `
		SELECT id, author, body, created_at
		FROM occurrence_routing_messages WHERE `+f.where+` ORDER BY id, seq
	`, f.args, func(scan func(...any) error) error {
		var (
			id string
			m  occurrence.RoutingMessage
		)
		if err := scan(&id, &m.Author, &m.Body, &m.CreatedAt); err != nil {
			return err
		}
		if st, ok := states[id]; ok {
			if st.ReviewRouting == nil {
				st.ReviewRouting = &occurrence.ReviewRouting{}
			}
			st.ReviewRouting.Messages = append(st.ReviewRouting.Messages, m)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("load routing messages: %w", err)
	}
	return nil
}

func (r *OccurrencesRepo) eachRow(ctx context.Context, query string, args []any, fn func(scan func(...any) error) error) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}

// outcomeRow es el JSONB de occurrence_state.outcome.
type outcomeRow struct {
	Tags          []string  `json:"tags"`
	Justification string    `json:"justification"`
	Primary       *string   `json:"primary,omitempty"`
	DefinedBy     string    `json:"defined_by"`
	DefinedAt     time.Time `json:"defined_at"`
}

func (o outcomeRow) model() occurrence.Outcome {
	return occurrence.Outcome{
		Tags:          o.Tags,
		Justification: o.Justification,
		Primary:       o.Primary,
		DefinedBy:     o.DefinedBy,
		DefinedAt:     o.DefinedAt,
	}
}

func toOutcomeRow(o occurrence.Outcome) outcomeRow {
	return outcomeRow{
		Tags:          o.Tags,
		Justification: o.Justification,
		Primary:       o.Primary,
		DefinedBy:     o.DefinedBy,
		DefinedAt:     o.DefinedAt.UTC(),
	}
}
