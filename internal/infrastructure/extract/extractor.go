// Package extract 提供文档文本提取
package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "study-forge-api/pkg/errors"
)

// 提取限制
const (
	MaxPDFPages   = 300
	MaxSheetRows  = 5000
	MaxOutputSize = 4 << 20
)

var tracer = otel.Tracer("extract")

// Extractor 按文件扩展名选择提取方式
type Extractor struct{}

// New 创建提取器
func New() *Extractor {
	return &Extractor{}
}

// Extract 提取文件文本
// 不支持的格式或提取结果为空时返回 DataIntegrity 错误
func (e *Extractor) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	_, span := tracer.Start(ctx, "extract.Extract",
		trace.WithAttributes(
			attribute.String("file.name", fileName),
			attribute.String("file.ext", ext),
			attribute.Int("file.size", len(data)),
		))
	defer span.End()

	if len(data) == 0 {
		return "", apperrors.DataIntegrity("empty file " + fileName)
	}

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = extractPDF(data)
	case ".xlsx", ".xlsm":
		text, err = extractSheet(data)
	case ".txt", ".md", ".markdown", ".csv", "":
		text, err = extractPlain(data)
	default:
		return "", apperrors.DataIntegrity("unsupported file type " + ext)
	}
	if err != nil {
		span.RecordError(err)
		return "", apperrors.DataIntegrity(fmt.Sprintf("extract %s: %v", fileName, err))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.DataIntegrity("no text in " + fileName)
	}
	if len(text) > MaxOutputSize {
		text = truncateUTF8(text, MaxOutputSize)
	}
	span.SetAttributes(attribute.Int("extract.chars", len(text)))
	return text, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	total := r.NumPage()
	if total == 0 {
		return "", fmt.Errorf("pdf has no pages")
	}
	if total > MaxPDFPages {
		return "", fmt.Errorf("pdf has %d pages, max %d", total, MaxPDFPages)
	}

	var sb strings.Builder
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页失败跳过
			continue
		}
		text = strings.ReplaceAll(text, "\x00", "")
		if strings.TrimSpace(text) == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
		if sb.Len() > MaxOutputSize {
			break
		}
	}
	return sb.String(), nil
}

func extractSheet(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	rowCount := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		sb.WriteString("# " + sheet + "\n")
		for _, row := range rows {
			if rowCount >= MaxSheetRows {
				return sb.String(), nil
			}
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
			rowCount++
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func extractPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("text is not valid utf-8")
	}
	return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
