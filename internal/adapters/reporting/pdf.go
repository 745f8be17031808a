// Package reporting renders the session summary PDF served from the
// diagnostics surface: heap watermarks, pressure, and the capture log.
package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/lcalzada-xor/snuffle/internal/adapters/web"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
)

// PDFExporter generates session reports.
type PDFExporter struct{}

// NewPDFExporter creates an exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// GenerateSessionReport renders the status block and capture table.
func (p *PDFExporter) GenerateSessionReport(status web.Status, captures []ports.CaptureRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Session Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Recon Session Report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().Format(time.RFC1123)))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "System")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	rows := [][2]string{
		{"Mode", status.Mode},
		{"State", status.State},
		{"Networks observed", fmt.Sprintf("%d", status.Networks)},
		{"Handshakes held", fmt.Sprintf("%d", status.Handshakes)},
		{"PMKIDs held", fmt.Sprintf("%d", status.PMKIDs)},
		{"Heap health", fmt.Sprintf("%d%% (%s)", status.HealthPct, status.Pressure)},
		{"Heap min free / min largest", fmt.Sprintf("%d / %d bytes", status.MinFree, status.MinLargest)},
		{"Packets observed", fmt.Sprintf("%d", status.PacketCount)},
	}
	for _, row := range rows {
		pdf.Cell(70, 6, row[0])
		pdf.Cell(0, 6, row[1])
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Captures (%d)", len(captures)))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.Cell(25, 6, "Kind")
	pdf.Cell(45, 6, "SSID")
	pdf.Cell(35, 6, "BSSID")
	pdf.Cell(35, 6, "Station")
	pdf.Cell(0, 6, "Saved")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 9)
	for _, c := range captures {
		pdf.Cell(25, 5, c.Kind)
		pdf.Cell(45, 5, truncate(c.SSID, 24))
		pdf.Cell(35, 5, c.BSSID)
		pdf.Cell(35, 5, c.Station)
		pdf.Cell(0, 5, c.SavedAt.Format("15:04:05"))
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
