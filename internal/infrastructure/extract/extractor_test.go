package extract

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "study-forge-api/pkg/errors"
)

func TestExtractPlainText(t *testing.T) {
	text, err := New().Extract(context.Background(), []byte("\xef\xbb\xbf  Photosynthesis converts light.\n"), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis converts light.", text)
}

func TestExtractRejectsUnsupported(t *testing.T) {
	_, err := New().Extract(context.Background(), []byte("MZ"), "setup.exe")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDataIntegrity, apperrors.KindOf(err))
}

func TestExtractRejectsEmpty(t *testing.T) {
	_, err := New().Extract(context.Background(), nil, "a.txt")
	assert.Equal(t, apperrors.KindDataIntegrity, apperrors.KindOf(err))

	_, err = New().Extract(context.Background(), []byte("   \n"), "a.txt")
	assert.Equal(t, apperrors.KindDataIntegrity, apperrors.KindOf(err))
}

func TestExtractRejectsInvalidUTF8(t *testing.T) {
	_, err := New().Extract(context.Background(), []byte{0xff, 0xfe, 0xfd}, "a.txt")
	assert.Equal(t, apperrors.KindDataIntegrity, apperrors.KindOf(err))
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := New().Extract(context.Background(), []byte("not a pdf at all"), "paper.pdf")
	assert.Equal(t, apperrors.KindDataIntegrity, apperrors.KindOf(err))
}

func TestExtractWorkbook(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "term"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "definition"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "mitosis"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "cell division"))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	text, err := New().Extract(context.Background(), buf.Bytes(), "glossary.xlsx")
	require.NoError(t, err)
	assert.Contains(t, text, "# Sheet1")
	assert.Contains(t, text, "mitosis\tcell division")
}

func TestTruncateUTF8(t *testing.T) {
	s := strings.Repeat("é", 10)
	out := truncateUTF8(s, 5)
	assert.Equal(t, "éé", out)
}
