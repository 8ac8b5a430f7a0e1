package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"comovecli/pkg/contracts/domain"
)

// ExcelReporter writes the comparison report as a multi-sheet Excel
// workbook: Summary, Regression, Deciles, ROC and Exclusions.
type ExcelReporter struct {
	outputDir string
	logger    *slog.Logger
}

// NewExcelReporter creates a reporter rooted at outputDir.
func NewExcelReporter(outputDir string, logger *slog.Logger) *ExcelReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExcelReporter{outputDir: outputDir, logger: logger}
}

// WriteReport renders the comparison result to comparison_report.xlsx.
func (r *ExcelReporter) WriteReport(result *domain.ComparisonResult) error {
	if result == nil {
		return fmt.Errorf("nil comparison result")
	}
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := r.writeSummary(f, result); err != nil {
		return err
	}
	if result.Regression != nil {
		if err := r.writeRegression(f, result.Regression); err != nil {
			return err
		}
	}
	if result.Deciles != nil {
		if err := r.writeDeciles(f, result.Deciles); err != nil {
			return err
		}
	}
	if result.AUC != nil {
		if err := r.writeROC(f, result.AUC); err != nil {
			return err
		}
	}
	if err := r.writeExclusions(f, result); err != nil {
		return err
	}

	path := filepath.Join(r.outputDir, "comparison_report.xlsx")
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	r.logger.Info("wrote comparison report", "path", path, "run_id", result.RunID)
	return nil
}

func (r *ExcelReporter) writeSummary(f *excelize.File, result *domain.ComparisonResult) error {
	const sheet = "Summary"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Run ID", result.RunID},
		{"Generated At", result.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
		{"Lag (quarters)", result.Lag},
	}
	if result.AUC != nil {
		rows = append(rows, []interface{}{"AUC", result.AUC.AUC})
	}
	if result.Deciles != nil {
		rows = append(rows, []interface{}{"Decile monotonicity", result.Deciles.Monotonicity})
	}
	if result.Regression != nil {
		rows = append(rows, []interface{}{"Regression R²", result.Regression.RSquared})
	}
	for name, msg := range result.Errors {
		rows = append(rows, []interface{}{"Skipped: " + name, msg})
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *ExcelReporter) writeRegression(f *excelize.File, reg *domain.RegressionResult) error {
	const sheet = "Regression"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create regression sheet: %w", err)
	}

	header := []interface{}{"term", "estimate", "robust_se", "t_stat", "ci_lower", "ci_upper"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write regression header: %w", err)
	}
	for i, c := range reg.Coefficients {
		row := []interface{}{c.Name, c.Estimate, c.StdErr, c.TStat, c.CILower, c.CIUpper}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write regression row %d: %w", i+1, err)
		}
	}
	footer := []interface{}{"r_squared", reg.RSquared, "observations", reg.Observations}
	cell, _ := excelize.CoordinatesToCellName(1, len(reg.Coefficients)+3)
	if err := f.SetSheetRow(sheet, cell, &footer); err != nil {
		return fmt.Errorf("write regression footer: %w", err)
	}
	return nil
}

func (r *ExcelReporter) writeDeciles(f *excelize.File, deciles *domain.DecileResult) error {
	const sheet = "Deciles"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create deciles sheet: %w", err)
	}

	header := []interface{}{"decile", "count", "mean_similarity", "mean_correlation", "median_correlation"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write deciles header: %w", err)
	}
	for i, row := range deciles.Rows {
		values := []interface{}{row.Decile, row.Count, row.MeanSimilarity, row.MeanCorrelation, row.MedianCorrelation}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write decile row %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *ExcelReporter) writeROC(f *excelize.File, auc *domain.AUCResult) error {
	const sheet = "ROC"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create roc sheet: %w", err)
	}

	header := []interface{}{"threshold", "tpr", "fpr"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write roc header: %w", err)
	}
	for i, point := range auc.Curve {
		values := []interface{}{point.Threshold, point.TPR, point.FPR}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write roc row %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *ExcelReporter) writeExclusions(f *excelize.File, result *domain.ComparisonResult) error {
	const sheet = "Exclusions"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create exclusions sheet: %w", err)
	}

	header := []interface{}{"reason", "count"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write exclusions header: %w", err)
	}
	reasons := []domain.ExclusionReason{
		domain.ExclusionMissingVector,
		domain.ExclusionInsufficientOverlap,
		domain.ExclusionUndefinedCorrelation,
		domain.ExclusionJoinUnmatched,
		domain.ExclusionMissingControls,
		domain.ExclusionDegenerateLabel,
	}
	for i, reason := range reasons {
		values := []interface{}{string(reason), result.Exclusions[reason]}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write exclusions row %d: %w", i+1, err)
		}
	}
	return nil
}
