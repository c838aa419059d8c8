package parser

import (
	"fmt"
	"regexp"
	"strings"

	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"

	"github.com/aclindsa/ofxgo"
	"go.uber.org/zap"
)

var (
	stmtTrnRegex = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)
	ofxTagRegex  = map[string]*regexp.Regexp{}
)

func init() {
	for _, tag := range []string{"TRNTYPE", "DTPOSTED", "TRNAMT", "FITID", "MEMO", "NAME", "CHECKNUM"} {
		ofxTagRegex[tag] = regexp.MustCompile(`(?i)<` + tag + `>([^<\r\n]*)`)
	}
}

// parseOFX usa o ofxgo e, quando ele recusa o arquivo (SGML fora do padrão é
// comum em bancos brasileiros), cai para a varredura de blocos <STMTTRN>.
func (s *service) parseOFX(content string) *Result {
	resp, err := ofxgo.ParseResponse(strings.NewReader(content))
	if err == nil {
		if res := fromOFXResponse(resp); len(res.Transactions) > 0 {
			return res
		}
	} else {
		s.logger.Debug("ofxgo recusou o arquivo, usando varredura de blocos", zap.Error(err))
	}
	return scanOFXBlocks(content)
}

func fromOFXResponse(resp *ofxgo.Response) *Result {
	var lists []*ofxgo.TransactionList
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}

	res := &Result{}
	line := 0
	for _, list := range lists {
		for _, t := range list.Transactions {
			line++
			date := t.DtPosted.Time
			if date.IsZero() && t.DtUser != nil {
				date = t.DtUser.Time
			}
			if date.IsZero() {
				continue
			}
			amount, _ := t.TrnAmt.Float64()
			if !normalizer.ValidAmount(amount) {
				res.RowErrors = append(res.RowErrors, domain.RowError{
					Line:    line,
					Reasons: []string{fmt.Sprintf("TRNAMT inválido: %q", t.TrnAmt.String())},
					Raw:     []string{t.TrnType.String(), t.FiTID.String(), t.TrnAmt.String()},
				})
				continue
			}
			amount = normalizer.RoundCents(amount)

			desc := strings.TrimSpace(t.Memo.String())
			if desc == "" {
				desc = strings.TrimSpace(t.Name.String())
			}
			tx := domain.RawTransaction{
				Date:        date.Format("2006-01-02"),
				Description: desc,
				Amount:      abs(amount),
				Type:        typeFromSign(amount),
				SourceLine:  []string{t.TrnType.String(), t.FiTID.String(), t.TrnAmt.String()},
			}
			if doc := strings.TrimSpace(t.CheckNum.String()); doc != "" {
				tx.Document = &doc
			}
			res.Transactions = append(res.Transactions, tx)
		}
	}
	return res
}

// scanOFXBlocks extrai cada bloco <STMTTRN> por regex. DTPOSTED vem como
// YYYYMMDD[HHMMSS[.XXX][TZ]] e só os oito primeiros caracteres interessam.
func scanOFXBlocks(content string) *Result {
	res := &Result{}
	for i, m := range stmtTrnRegex.FindAllStringSubmatch(content, -1) {
		block := m[1]
		tag := func(name string) string {
			if mm := ofxTagRegex[name].FindStringSubmatch(block); len(mm) > 1 {
				return strings.TrimSpace(mm[1])
			}
			return ""
		}

		raw := []string{tag("TRNTYPE"), tag("DTPOSTED"), tag("TRNAMT"), tag("FITID")}
		var reasons []string

		posted := tag("DTPOSTED")
		date, ok := "", false
		if len(posted) >= 8 {
			date, ok = normalizer.ParseDate(posted[0:4] + "-" + posted[4:6] + "-" + posted[6:8])
		}
		if !ok {
			reasons = append(reasons, fmt.Sprintf("DTPOSTED inválido: %q", posted))
		}
		amount, amountOK := normalizer.ParseAmount(tag("TRNAMT"))
		if !amountOK {
			reasons = append(reasons, fmt.Sprintf("TRNAMT inválido: %q", tag("TRNAMT")))
		}
		if len(reasons) > 0 {
			res.RowErrors = append(res.RowErrors, domain.RowError{Line: i + 1, Reasons: reasons, Raw: raw})
			continue
		}

		desc := tag("MEMO")
		if desc == "" {
			desc = tag("NAME")
		}
		tx := domain.RawTransaction{
			Date:        date,
			Description: strings.Join(strings.Fields(desc), " "),
			Amount:      abs(amount),
			Type:        typeFromSign(amount),
			SourceLine:  raw,
		}
		if doc := tag("CHECKNUM"); doc != "" {
			tx.Document = &doc
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res
}

func typeFromSign(amount float64) domain.TransactionType {
	if amount >= 0 {
		return domain.TypeCredit
	}
	return domain.TypeDebit
}
