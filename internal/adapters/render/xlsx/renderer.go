package xlsx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"clinical-occurrences/internal/domain/occurrence"
)

const (
	SheetSummary     = "Resumen"
	SheetHistory     = "Historial"
	SheetComments    = "Comentarios"
	SheetAttachments = "Adjuntos"

	contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	timeLayout  = "2006-01-02 15:04:05"
	dateLayout  = "2006-01-02"
)

var (
	HistoryHeader    = []string{"Desde", "Hacia", "Actor", "Fecha", "Motivo"}
	CommentsHeader   = []string{"Autor", "Comentario", "Fecha"}
	AttachmentHeader = []string{"Nombre", "Tipo", "Tamaño", "Subido por", "Fecha"}
)

// Renderer genera el reporte de una ocurrencia como planilla xlsx.
type Renderer struct {
	now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{now: time.Now}
}

func (r *Renderer) ContentType() string { return contentType }

func (r *Renderer) Extension() string { return "xlsx" }

func (r *Renderer) Render(ctx context.Context, o occurrence.Occurrence, firstImage []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := r.writeSummary(f, o, headerStyle); err != nil {
		return nil, err
	}
	if len(firstImage) > 0 {
		if err := addImage(f, firstImage); err != nil {
			return nil, err
		}
	}

	history := make([][]any, 0, len(o.History))
	for _, h := range o.History {
		history = append(history, []any{string(h.FromStatus), string(h.ToStatus), h.Actor, h.Timestamp.UTC().Format(timeLayout), h.Reason})
	}
	if err := writeTable(f, SheetHistory, HistoryHeader, history, headerStyle); err != nil {
		return nil, err
	}

	comments := make([][]any, 0, len(o.Comments))
	for _, c := range o.Comments {
		comments = append(comments, []any{c.Author, c.Body, c.CreatedAt.UTC().Format(timeLayout)})
	}
	if err := writeTable(f, SheetComments, CommentsHeader, comments, headerStyle); err != nil {
		return nil, err
	}

	attachments := make([][]any, 0, len(o.Attachments))
	for _, a := range o.Attachments {
		attachments = append(attachments, []any{a.Name, a.MimeType, a.Size, a.Uploader, a.UploadedAt.UTC().Format(timeLayout)})
	}
	if err := writeTable(f, SheetAttachments, AttachmentHeader, attachments, headerStyle); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// writeSummary escribe pares campo/valor en las columnas A y B.
func (r *Renderer) writeSummary(f *excelize.File, o occurrence.Occurrence, style int) error {
	rows := [][2]string{
		{"Protocolo", o.Protocol},
		{"Ocurrencia", o.Ref.String()},
		{"Fuente", string(o.Ref.Kind)},
		{"Tipo", o.Type},
		{"Subtipo", o.Subtype},
		{"Estado", string(o.Status)},
		{"Clasificación", triageText(o.Triage)},
		{"Descripción", o.Description},
		{"Paciente", deref(o.Patient.Name)},
		{"Teléfono", deref(o.Patient.Phone)},
		{"Nacimiento", dateText(o.Patient.BirthDate)},
		{"Examen", deref(o.Patient.ExamType)},
		{"Fecha examen", dateText(o.Patient.ExamDate)},
		{"Registrada por", o.CreatedBy},
		{"Registrada", o.CreatedAt.UTC().Format(timeLayout)},
	}
	if o.Outcome != nil {
		primary := deref(o.Outcome.Primary)
		rows = append(rows,
			[2]string{"Desenlace", strings.Join(o.Outcome.Tags, ", ")},
			[2]string{"Desenlace principal", primary},
			[2]string{"Justificación", o.Outcome.Justification},
			[2]string{"Definido por", o.Outcome.DefinedBy},
		)
	}
	if o.FinalizedAt != nil {
		rows = append(rows,
			[2]string{"Finalizada", o.FinalizedAt.UTC().Format(timeLayout)},
			[2]string{"Finalizada por", o.FinalizedBy},
		)
	}
	rows = append(rows, [2]string{"Generado", r.now().UTC().Format(timeLayout)})

	for i, row := range rows {
		label := fmt.Sprintf("A%d", i+1)
		if err := f.SetCellValue(SheetSummary, label, row[0]); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", label, err)
		}
		if err := f.SetCellStyle(SheetSummary, label, label, style); err != nil {
			return fmt.Errorf("failed to set style %s: %w", label, err)
		}
		if err := f.SetCellValue(SheetSummary, fmt.Sprintf("B%d", i+1), row[1]); err != nil {
			return fmt.Errorf("failed to set cell B%d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(SheetSummary, "A", "A", 22); err != nil {
		return err
	}
	return f.SetColWidth(SheetSummary, "B", "B", 60)
}

func writeTable(f *excelize.File, sheet string, header []string, rows [][]any, style int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to set row %d of %s: %w", i+2, sheet, err)
		}
	}
	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 20)
}

// addImage inserta la primera imagen en el resumen. Formatos no
// soportados se omiten sin fallar el reporte.
func addImage(f *excelize.File, data []byte) error {
	var ext string
	switch http.DetectContentType(data) {
	case "image/png":
		ext = ".png"
	case "image/jpeg":
		ext = ".jpg"
	case "image/gif":
		ext = ".gif"
	default:
		return nil
	}
	err := f.AddPictureFromBytes(SheetSummary, "D2", &excelize.Picture{
		Extension: ext,
		File:      data,
		Format:    &excelize.GraphicOptions{ScaleX: 0.5, ScaleY: 0.5},
	})
	if err != nil {
		return fmt.Errorf("failed to add picture: %w", err)
	}
	return nil
}

func triageText(t *occurrence.TriageLevel) string {
	if t == nil {
		return ""
	}
	return string(*t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dateText(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
