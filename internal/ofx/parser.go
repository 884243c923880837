// Package ofx parses OFX/QFX bank exports into transactions ready for
// classification.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/model"
)

const defaultCurrency = "GBP"

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in real-world OFX exports
// before handing them to the strict parser.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// SEVERITY must be INFO, WARN, or ERROR; some banks emit mixed case.
	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// SGML-style files sometimes drop the closing angle bracket on a tag
	// that ends the line.
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}

// ParseFile parses an OFX/QFX file and returns transactions.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.Transaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			transactions = append(transactions, p.processBankStatement(stmt)...)
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			transactions = append(transactions, p.processCreditCardStatement(stmt)...)
		}
	}

	slog.Info("Parsed OFX file",
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

func (p *Parser) processBankStatement(stmt *ofxgo.StatementResponse) []model.Transaction {
	if stmt.BankTranList == nil {
		return nil
	}

	accountName := string(stmt.BankAcctFrom.AcctID)
	currency := currencyOf(stmt.CurDef)

	var transactions []model.Transaction
	for _, ofxTx := range stmt.BankTranList.Transactions {
		transactions = append(transactions, p.convertTransaction(ofxTx, accountName, currency))
	}
	return transactions
}

func (p *Parser) processCreditCardStatement(stmt *ofxgo.CCStatementResponse) []model.Transaction {
	if stmt.BankTranList == nil {
		return nil
	}

	accountName := string(stmt.CCAcctFrom.AcctID)
	currency := currencyOf(stmt.CurDef)

	var transactions []model.Transaction
	for _, ofxTx := range stmt.BankTranList.Transactions {
		transactions = append(transactions, p.convertTransaction(ofxTx, accountName, currency))
	}
	return transactions
}

// convertTransaction maps one OFX transaction to the classification model.
// The FITID becomes the external id used for import deduplication; amounts
// keep the sign the bank reported (negative for debits).
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, accountName, currency string) model.Transaction {
	amount := decimal.NewFromBigRat(&ofxTx.TrnAmt.Rat, 2)

	txn := model.Transaction{
		ExternalID:  string(ofxTx.FiTID),
		Date:        ofxTx.DtPosted.Time,
		Description: extractDescription(ofxTx),
		Amount:      amount,
		Currency:    currency,
		AccountName: accountName,
	}
	if ofxTx.Memo != "" && string(ofxTx.Memo) != txn.Description {
		txn.Notes = string(ofxTx.Memo)
	}
	return txn
}

// extractDescription picks the most merchant-like text available and strips
// bank boilerplate prefixes.
func extractDescription(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	prefixes := []string{
		"POS PURCHASE ",
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
		"CHECK CARD ",
		"VISA PURCHASE ",
		"MC PURCHASE ",
		"DEBIT PURCHASE ",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading "MM/DD " date stamps add nothing for classification.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

func isGenericDescription(name string) bool {
	generic := []string{
		"DEBIT",
		"CREDIT",
		"PURCHASE",
		"PAYMENT",
		"POS TRANSACTION",
		"CARD PURCHASE",
	}

	upperName := strings.ToUpper(name)
	for _, g := range generic {
		if upperName == g {
			return true
		}
	}
	return false
}

func currencyOf(cur ofxgo.CurrSymbol) string {
	if s := cur.String(); s != "" {
		return s
	}
	return defaultCurrency
}

// GetAccounts extracts the unique account IDs present in an OFX file.
func (p *Parser) GetAccounts(ctx context.Context, reader io.Reader) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	accountMap := make(map[string]bool)
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			if stmt.BankAcctFrom.AcctID != "" {
				accountMap[string(stmt.BankAcctFrom.AcctID)] = true
			}
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			if stmt.CCAcctFrom.AcctID != "" {
				accountMap[string(stmt.CCAcctFrom.AcctID)] = true
			}
		}
	}

	accounts := make([]string, 0, len(accountMap))
	for acct := range accountMap {
		accounts = append(accounts, acct)
	}
	return accounts, nil
}
