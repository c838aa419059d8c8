package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/domain"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
)

// ParseWorkbook lê a primeira planilha de um .xlsx ou .xls e passa as linhas
// pelo mesmo pipeline do CSV.
func (s *service) ParseWorkbook(data []byte, profile banks.BankProfile, opts Options) (*Result, error) {
	if len(data) > opts.maxSize() {
		return nil, &domain.ParseError{Reason: fmt.Sprintf("arquivo excede o limite de %d bytes", opts.maxSize())}
	}
	sheet, err := loadWorkbook(data)
	if err != nil {
		return nil, &domain.ParseError{Reason: "planilha ilegível", Err: err}
	}

	rows := make([]row, 0, len(sheet))
	for i, cells := range sheet {
		rows = append(rows, row{line: i + 1, fields: cells})
	}
	res, err := s.parseTable(rows, profile, opts, 0, true)
	if err != nil {
		return res, err
	}
	return s.finish(res, profile, domain.FormatXLSX)
}

// assinatura OLE2 dos .xls antigos
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// loadWorkbook tenta xlsx (valores crus, para datas virem como serial) e depois xls.
func loadWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err == nil {
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("o arquivo .xlsx não contém planilhas")
		}
		return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	}

	if !bytes.HasPrefix(data, oleMagic) {
		return nil, fmt.Errorf("formato de planilha não suportado: %w", err)
	}
	workbook, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("formato de planilha não suportado: %w", err)
	}
	if len(workbook.GetSheets()) == 0 {
		return nil, fmt.Errorf("o arquivo .xls não contém planilhas")
	}
	sheet, err := workbook.GetSheet(0)
	if err != nil {
		return nil, fmt.Errorf("erro ao obter planilha do arquivo .xls: %w", err)
	}
	var out [][]string
	for _, r := range sheet.GetRows() {
		var cells []string
		for _, c := range r.GetCols() {
			cells = append(cells, c.GetString())
		}
		out = append(out, cells)
	}
	return out, nil
}

// excelDate converte o serial de data do Excel ("45672" ou "45672.5").
func excelDate(raw string) (string, bool) {
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || serial < 1 || serial > 2958465 {
		return "", false
	}
	return excelSerialToDate(serial).Format("2006-01-02"), true
}

func excelSerialToDate(serial float64) time.Time {
	// base Excel serial -> 1899-12-30
	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(serial))
}
