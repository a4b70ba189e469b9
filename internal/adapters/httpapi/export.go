package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"donationcore/pkg/domain"
)

// Inventory export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var inventoryColumns = []string{
	"intake_id", "category_id", "origin", "quality_grade", "recorded_at",
	"quantity", "withdrawn", "available",
}

// negotiateFormat picks the response format from ?format= or the Accept
// header. It returns "" for unsupported formats.
func negotiateFormat(r *http.Request) string {
	wanted := strings.ToLower(r.URL.Query().Get("format"))
	if wanted == "" {
		if strings.Contains(r.Header.Get("Accept"), "text/csv") {
			return FormatCSV
		}
		return FormatJSON
	}
	switch wanted {
	case FormatCSV, FormatJSON:
		return wanted
	}
	return ""
}

func streamInventoryCSV(w http.ResponseWriter, levels []domain.InventoryLevel, now time.Time) {
	filename := fmt.Sprintf("inventory-%s.csv", now.UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(inventoryColumns); err != nil {
		return
	}
	for _, l := range levels {
		record := []string{
			l.Intake.ID,
			l.Intake.CategoryID,
			l.Intake.Origin,
			l.Intake.QualityGrade,
			l.Intake.RecordedAt.UTC().Format(time.RFC3339),
			l.Intake.Quantity.String(),
			l.Withdrawn.String(),
			l.Available.String(),
		}
		if err := writer.Write(record); err != nil {
			return
		}
	}
}
