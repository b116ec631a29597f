package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is an issued certificate as kept in the document store.
type Record struct {
	ID               string    `json:"id"`
	StudentName      string    `json:"student_name"`
	CourseName       string    `json:"course_name"`
	IssueDate        string    `json:"issue_date"`
	UniversityWallet string    `json:"university_wallet"`
	UniversityName   string    `json:"university_name"`
	CertificateHash  string    `json:"certificate_hash"`
	TransactionHash  string    `json:"transaction_hash"`
	DocumentURL      string    `json:"document_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Repository reads certificates from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_name, course_name, issue_date, university_wallet, university_name, certificate_hash, transaction_hash, document_url, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var wallet, university, txHash, docURL sql.NullString
	err := row.Scan(&rec.ID, &rec.StudentName, &rec.CourseName, &rec.IssueDate, &wallet, &university,
		&rec.CertificateHash, &txHash, &docURL, &rec.CreatedAt)
	rec.UniversityWallet = wallet.String
	rec.UniversityName = university.String
	rec.TransactionHash = txHash.String
	rec.DocumentURL = docURL.String
	return rec, err
}

// Get returns the certificate with the exact id, or nil when there is none.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM certificates WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// List returns certificates newest first. A non-empty search matches student, course or id,
// case-insensitively.
func (r *Repository) List(ctx context.Context, search string, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM certificates`
	args := []any{}
	if s := strings.TrimSpace(search); s != "" {
		query += ` WHERE student_name ILIKE $1 OR course_name ILIKE $1 OR id ILIKE $1`
		args = append(args, "%"+escapeLike(s)+"%")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// SetDocumentURL records where the composed certificate document is stored.
func (r *Repository) SetDocumentURL(ctx context.Context, id, url string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE certificates SET document_url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("certificate %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
