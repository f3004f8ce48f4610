package occurrence

import "time"

// View es la representación JSON de una ocurrencia para la API.
type View struct {
	ID            string             `json:"id"`
	Kind          SourceKind         `json:"kind"`
	Protocol      string             `json:"protocol"`
	Type          string             `json:"type"`
	Subtype       string             `json:"subtype"`
	Patient       PatientView        `json:"patient"`
	Description   string             `json:"description"`
	Status        Status             `json:"status"`
	NextStatuses  []Status           `json:"nextStatuses"`
	Triage        *TriageLevel       `json:"triage"`
	Outcome       *OutcomeView       `json:"outcome"`
	History       []HistoryEntryWire `json:"history"`
	Comments      []CommentView      `json:"comments"`
	Attachments   []AttachmentView   `json:"attachments"`
	CreatedBy     string             `json:"createdBy"`
	CreatedByName string             `json:"createdByName"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	FinalizedAt   *time.Time         `json:"finalizedAt,omitempty"`
	FinalizedBy   string             `json:"finalizedBy,omitempty"`
	ReportPath    string             `json:"reportPath,omitempty"`
	ReportAt      *time.Time         `json:"reportGeneratedAt,omitempty"`
	ShareToken    string             `json:"shareToken,omitempty"`
	ReviewRouting *RoutingView       `json:"reviewRouting,omitempty"`
}

type PatientView struct {
	Name      *string    `json:"name"`
	Phone     *string    `json:"phone"`
	BirthDate *time.Time `json:"birthDate"`
	ExamType  *string    `json:"examType"`
	ExamDate  *time.Time `json:"examDate"`
}

type OutcomeView struct {
	Tags          []string  `json:"tags"`
	Justification string    `json:"justification"`
	Primary       *string   `json:"primary"`
	DefinedBy     string    `json:"definedBy"`
	DefinedAt     time.Time `json:"definedAt"`
}

type CommentView struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type AttachmentView struct {
	Name        string    `json:"name"`
	MimeType    string    `json:"mimeType"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storagePath"`
	IsImage     bool      `json:"isImage"`
	Uploader    string    `json:"uploader"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type RoutingView struct {
	DestinationReviewer string        `json:"destinationReviewer"`
	Messages            []CommentView `json:"messages"`
	RoutedAt            *time.Time    `json:"routedAt"`
}

func (o Occurrence) View() View {
	v := View{
		ID:          o.Ref.String(),
		Kind:        o.Ref.Kind,
		Protocol:    o.Protocol,
		Type:        o.Type,
		Subtype:     o.Subtype,
		Description: o.Description,
		Patient: PatientView{
			Name:      o.Patient.Name,
			Phone:     o.Patient.Phone,
			BirthDate: o.Patient.BirthDate,
			ExamType:  o.Patient.ExamType,
			ExamDate:  o.Patient.ExamDate,
		},
		Status:        o.Status,
		NextStatuses:  NextStatuses(o.Status),
		Triage:        o.Triage,
		History:       HistoryToWire(o.History),
		Comments:      make([]CommentView, 0, len(o.Comments)),
		Attachments:   make([]AttachmentView, 0, len(o.Attachments)),
		CreatedBy:     o.CreatedBy,
		CreatedByName: o.CreatedByName,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		FinalizedAt:   o.FinalizedAt,
		FinalizedBy:   o.FinalizedBy,
		ShareToken:    o.ShareToken,
	}
	if o.Outcome != nil {
		v.Outcome = &OutcomeView{
			Tags:          o.Outcome.Tags,
			Justification: o.Outcome.Justification,
			Primary:       o.Outcome.Primary,
			DefinedBy:     o.Outcome.DefinedBy,
			DefinedAt:     o.Outcome.DefinedAt,
		}
	}
	for _, c := range o.Comments {
		v.Comments = append(v.Comments, CommentView(c))
	}
	for _, a := range o.Attachments {
		v.Attachments = append(v.Attachments, AttachmentView(a))
	}
	if o.Report != nil {
		at := o.Report.GeneratedAt
		v.ReportPath = o.Report.Path
		v.ReportAt = &at
	}
	if o.ReviewRouting != nil {
		rv := &RoutingView{
			DestinationReviewer: o.ReviewRouting.DestinationReviewer,
			RoutedAt:            o.ReviewRouting.RoutedAt,
			Messages:            make([]CommentView, 0, len(o.ReviewRouting.Messages)),
		}
		for _, m := range o.ReviewRouting.Messages {
			rv.Messages = append(rv.Messages, CommentView(m))
		}
		v.ReviewRouting = rv
	}
	return v
}

// PublicView es lo que ve quien abre un link compartido: sin token ni ids internos.
func (o Occurrence) PublicView() View {
	v := o.View()
	v.ShareToken = ""
	v.CreatedBy = ""
	return v
}
