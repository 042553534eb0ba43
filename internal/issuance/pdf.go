package issuance

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/signintech/gopdf"

	"jersey-events/internal/models"
)

// TicketPDFRenderer draws the printable A4 ticket with event details, buyer
// name and the QR image.
type TicketPDFRenderer struct {
	FontPath string
}

func NewTicketPDFRenderer(fontPath string) *TicketPDFRenderer {
	if fontPath == "" {
		fontPath = "./fonts/DejaVuSans.ttf"
	}
	return &TicketPDFRenderer{FontPath: fontPath}
}

func (g *TicketPDFRenderer) Render(ticket models.Ticket, event models.Event, qrPNG []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("dejavu", g.FontPath); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont("dejavu", "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	pdf.SetX(40)
	pdf.SetY(30)
	pdf.Cell(nil, "JERSEY EVENTS - ENTRY TICKET")

	pdf.SetY(60)
	info := []struct {
		Label string
		Value string
	}{
		{"Event", event.Name},
		{"Venue", event.Venue},
		{"Date", event.StartsAt.Format("Monday, 2 January 2006")},
		{"Ticket", ticket.TicketNumber},
		{"Name", ticket.BuyerName},
		{"Order", ticket.OrderNumber},
	}
	for _, item := range info {
		pdf.SetX(40)
		pdf.Cell(nil, item.Label+": "+item.Value)
		pdf.Br(20)
	}

	if len(qrPNG) > 0 {
		img, err := png.Decode(bytes.NewReader(qrPNG))
		if err != nil {
			return nil, fmt.Errorf("failed to decode QR image: %w", err)
		}
		rect := &gopdf.Rect{W: 140, H: 140}
		if err := pdf.ImageFrom(img, 40, pdf.GetY()+20, rect); err != nil {
			return nil, fmt.Errorf("failed to draw QR code: %w", err)
		}
	}

	pdf.SetY(760)
	pdf.SetX(40)
	pdf.Cell(nil, "Present this QR code at the entrance. One scan per ticket.")

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// DiskDocumentStore writes ticket PDFs under a base directory and hands back
// the file path as the retrieval reference.
type DiskDocumentStore struct {
	BaseDir string
}

func NewDiskDocumentStore(baseDir string) *DiskDocumentStore {
	if baseDir == "" {
		baseDir = "tickets"
	}
	return &DiskDocumentStore{BaseDir: baseDir}
}

func (s *DiskDocumentStore) SaveTicketPDF(ticketNumber string, pdf []byte) (string, error) {
	if err := os.MkdirAll(s.BaseDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(s.BaseDir, ticketNumber+".pdf")
	if err := os.WriteFile(path, pdf, 0644); err != nil {
		return "", err
	}
	return path, nil
}
