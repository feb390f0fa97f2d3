package service

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository"
	customError "github.com/aadvita/dues-engine/pkg/errors"
	"github.com/aadvita/dues-engine/pkg/utils"
)

// ReportService aggregates the ledger for dashboards and exports.
type ReportService struct {
	MemberRepo      repository.MemberRepository
	InstallmentRepo repository.InstallmentRepository
	generator       *ScheduleGenerator
	logger          *slog.Logger
	tracer          trace.Tracer
}

func NewReportService(
	memberRepo repository.MemberRepository,
	installmentRepo repository.InstallmentRepository,
	generator *ScheduleGenerator,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		MemberRepo:      memberRepo,
		InstallmentRepo: installmentRepo,
		generator:       generator,
		logger:          logger,
		tracer:          tracer(),
	}
}

// Summarize counts and sums the installments matching filter and groups the
// overdue ones by member.
func (s *ReportService) Summarize(ctx context.Context, filter domain.InstallmentFilter) (summary *domain.LedgerSummary, err error) {
	ctx, span := s.tracer.Start(ctx, "report.summarize")
	defer func() { finishSpan(span, err) }()

	summary, _, _, err = s.load(ctx, filter)
	return summary, err
}

// RenderPDF writes the installments matching filter as an A4 table followed by
// the summary totals.
func (s *ReportService) RenderPDF(ctx context.Context, w io.Writer, filter domain.InstallmentFilter) (err error) {
	ctx, span := s.tracer.Start(ctx, "report.render_pdf")
	defer func() { finishSpan(span, err) }()

	summary, installments, names, err := s.load(ctx, filter)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("report.rows", len(installments)))

	pdf := newLedgerPDF(s.generator.Now())
	pdf.table(installments, names)
	pdf.totals(summary)

	if err = pdf.doc.Output(w); err != nil {
		return customError.WrapProgramming("render ledger pdf: %v", err)
	}

	s.logger.InfoContext(ctx, "ledger exported", "actor", domain.ActorFrom(ctx), "rows", len(installments))
	return nil
}

func (s *ReportService) load(ctx context.Context, filter domain.InstallmentFilter) (*domain.LedgerSummary, []*domain.Installment, map[uuid.UUID]string, error) {
	if err := validateInstallmentFilter(filter); err != nil {
		return nil, nil, nil, err
	}

	installments, err := s.InstallmentRepo.List(ctx, filter)
	if err != nil {
		return nil, nil, nil, customError.WrapDatabaseError(err)
	}

	members, err := s.MemberRepo.List(ctx, domain.MemberFilter{})
	if err != nil {
		return nil, nil, nil, customError.WrapDatabaseError(err)
	}
	names := make(map[uuid.UUID]string, len(members))
	for _, member := range members {
		names[member.ID] = member.FullName
	}

	return buildSummary(installments, names, s.generator.Today()), installments, names, nil
}

func buildSummary(installments []*domain.Installment, names map[uuid.UUID]string, today time.Time) *domain.LedgerSummary {
	summary := &domain.LedgerSummary{
		ByStatus:            make(map[string]int, len(domain.InstallmentStatuses)),
		TotalAmountByStatus: make(map[string]decimal.Decimal, len(domain.InstallmentStatuses)),
		TotalAmount:         decimal.Zero,
		Overdue:             make([]domain.MemberOverdue, 0),
	}
	for _, status := range domain.InstallmentStatuses {
		summary.ByStatus[status] = 0
		summary.TotalAmountByStatus[status] = decimal.Zero
	}

	overdueIndex := make(map[uuid.UUID]int)
	for _, installment := range installments {
		summary.TotalCount++
		summary.ByStatus[installment.Status]++
		summary.TotalAmountByStatus[installment.Status] = summary.TotalAmountByStatus[installment.Status].Add(installment.FinalAmount)
		summary.TotalAmount = summary.TotalAmount.Add(installment.FinalAmount)

		if !installment.IsOverdue(today) {
			continue
		}
		idx, ok := overdueIndex[installment.MemberID]
		if !ok {
			idx = len(summary.Overdue)
			overdueIndex[installment.MemberID] = idx
			summary.Overdue = append(summary.Overdue, domain.MemberOverdue{
				MemberID:     installment.MemberID,
				MemberName:   names[installment.MemberID],
				Amount:       decimal.Zero,
				Installments: make([]*domain.Installment, 0, 1),
			})
		}
		group := &summary.Overdue[idx]
		group.Count++
		group.Amount = group.Amount.Add(installment.FinalAmount)
		group.Installments = append(group.Installments, installment)
	}

	return summary
}

func validateInstallmentFilter(filter domain.InstallmentFilter) error {
	for _, status := range filter.Statuses {
		switch status {
		case domain.InstallmentStatusPending, domain.InstallmentStatusPaid, domain.InstallmentStatusCancelled:
		default:
			return customError.WrapValidation("unknown installment status %q", status)
		}
	}
	if filter.DueFrom != nil && filter.DueTo != nil && filter.DueFrom.After(*filter.DueTo) {
		return customError.WrapValidation("due date range is inverted")
	}
	if filter.ReferenceYear < 0 {
		return customError.WrapValidation("reference year must not be negative")
	}
	return nil
}

// PDF layout, A4 portrait in millimetres.
const (
	pdfRowHeight    = 7.0
	pdfHeaderHeight = 8.0
)

var ledgerColumns = []struct {
	title string
	width float64
	align string
}{
	{"Period", 30, "C"},
	{"Due date", 35, "C"},
	{"Amount", 35, "R"},
	{"Status", 35, "C"},
	{"Payment date", 40, "C"},
}

type ledgerPDF struct {
	doc       *fpdf.Fpdf
	translate func(string) string
}

func newLedgerPDF(generatedAt time.Time) *ledgerPDF {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Dues ledger", true)
	doc.SetMargins(15, 15, 15)
	doc.SetAutoPageBreak(true, 15)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 10, "Dues ledger", "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 9)
	doc.CellFormat(0, 6, "Generated at "+generatedAt.UTC().Format("2006-01-02 15:04 MST"), "", 1, "L", false, 0, "")
	doc.Ln(4)

	// core fonts are cp1252; member names carry accents
	return &ledgerPDF{doc: doc, translate: doc.UnicodeTranslatorFromDescriptor("")}
}

func (p *ledgerPDF) header() {
	p.doc.SetFont("Helvetica", "B", 10)
	p.doc.SetFillColor(230, 230, 230)
	for _, col := range ledgerColumns {
		p.doc.CellFormat(col.width, pdfHeaderHeight, col.title, "1", 0, "C", true, 0, "")
	}
	p.doc.Ln(-1)
}

func (p *ledgerPDF) table(installments []*domain.Installment, names map[uuid.UUID]string) {
	var current uuid.UUID
	for i, installment := range installments {
		if i == 0 || installment.MemberID != current {
			current = installment.MemberID
			if i > 0 {
				p.doc.Ln(3)
			}
			p.doc.SetFont("Helvetica", "B", 11)
			name := names[installment.MemberID]
			if name == "" {
				name = installment.MemberID.String()
			}
			p.doc.CellFormat(0, pdfRowHeight, p.translate(name), "", 1, "L", false, 0, "")
			p.header()
			p.doc.SetFont("Helvetica", "", 10)
		}

		for j, value := range ledgerRow(installment) {
			col := ledgerColumns[j]
			p.doc.CellFormat(col.width, pdfRowHeight, value, "1", 0, col.align, false, 0, "")
		}
		p.doc.Ln(-1)
	}

	if len(installments) == 0 {
		p.doc.SetFont("Helvetica", "I", 10)
		p.doc.CellFormat(0, pdfRowHeight, "No installments match the filter.", "", 1, "L", false, 0, "")
	}
}

func (p *ledgerPDF) totals(summary *domain.LedgerSummary) {
	p.doc.Ln(6)
	p.doc.SetFont("Helvetica", "B", 11)
	p.doc.CellFormat(0, pdfRowHeight, "Totals", "", 1, "L", false, 0, "")

	p.doc.SetFont("Helvetica", "", 10)
	for _, status := range domain.InstallmentStatuses {
		p.doc.CellFormat(40, pdfRowHeight, status, "1", 0, "L", false, 0, "")
		p.doc.CellFormat(25, pdfRowHeight, strconv.Itoa(summary.ByStatus[status]), "1", 0, "R", false, 0, "")
		p.doc.CellFormat(35, pdfRowHeight, summary.TotalAmountByStatus[status].StringFixed(2), "1", 1, "R", false, 0, "")
	}

	p.doc.SetFont("Helvetica", "B", 10)
	p.doc.CellFormat(40, pdfRowHeight, "total", "1", 0, "L", false, 0, "")
	p.doc.CellFormat(25, pdfRowHeight, strconv.Itoa(summary.TotalCount), "1", 0, "R", false, 0, "")
	p.doc.CellFormat(35, pdfRowHeight, summary.TotalAmount.StringFixed(2), "1", 1, "R", false, 0, "")
}

// ledgerRow formats one installment in column order.
func ledgerRow(installment *domain.Installment) []string {
	paid := ""
	if installment.PaymentDate != nil {
		paid = installment.PaymentDate.Format(utils.DateLayout)
	}
	return []string{
		installment.Period().String(),
		installment.DueDate.Format(utils.DateLayout),
		installment.FinalAmount.StringFixed(2),
		installment.Status,
		paid,
	}
}

