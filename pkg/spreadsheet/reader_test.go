package spreadsheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestReadXLSX(t *testing.T) {
	buf := workbook(t, [][]interface{}{
		{"Nombres", "Apellidos", "Cédula", "Correo"},
		{"Ana", "Ruiz", 1712345678, "ana@example.com"},
		{nil, nil, nil, nil},
		{"Luis", "Mora"},
	})

	table, err := Read("estudiantes.XLSX", buf)
	require.NoError(t, err)

	assert.Equal(t, []string{"Nombres", "Apellidos", "Cédula", "Correo"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 2, table.Rows[0].Number)
	assert.Equal(t, "1712345678", table.Rows[0].Cell(2))
	assert.Equal(t, 4, table.Rows[1].Number)
	assert.Equal(t, "", table.Rows[1].Cell(3))
	assert.Len(t, table.Rows[1].Cells, 4)
}

func TestReadCSVSemicolonWithBOM(t *testing.T) {
	data := "\xef\xbb\xbfnombres;apellidos;email\nAna;Ruiz;ana@example.com\n;;\nLuis;Mora;luis@example.com\n"

	table, err := Read("import.csv", strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"nombres", "apellidos", "email"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "luis@example.com", table.Rows[1].Cell(2))
	assert.Equal(t, 4, table.Rows[1].Number)
}

func TestReadRejectsUnknownExtension(t *testing.T) {
	_, err := Read("data.ods", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadEmptyCSV(t *testing.T) {
	_, err := Read("empty.csv", strings.NewReader("\n\n"))
	assert.ErrorIs(t, err, ErrEmptySheet)
}
